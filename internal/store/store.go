/*
	Package store implements the repository: the directory tree holding
	r3.yaml, git/, jobs/, and the derived index, and the commit / remove /
	pull / integrity operations that mutate it.

	Grounded on original_source/r3/storage.py's Storage class (init,
	the jobs/<id> layout, write-protection via stat-bit manipulation, git
	tag placement) and on the atomic-rename staging pattern used
	throughout rio/transmat/impl/.../_transmat.go (stage into a sibling
	temp directory, then rename into place so a crash mid-write never
	leaves a partially-populated entry under jobs/).
*/
package store

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
	"gopkg.in/yaml.v3"

	"github.com/r3fs/r3/internal/config"
	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/gitcache"
	"github.com/r3fs/r3/internal/jobbuilder"
	"github.com/r3fs/r3/internal/metaindex"
	"github.com/r3fs/r3/internal/resolve"
	"github.com/r3fs/r3/internal/rlock"
)

// FormatVersion is the r3.yaml version this store reads and writes. A
// repository written by a newer, incompatible version must be rejected
// rather than silently misread.
const FormatVersion = "1.0"

const lockTimeout = 30 * time.Second

// Store owns a single repository's jobs/ and git/ trees.
type Store struct {
	Root  string
	git   *gitcache.Cache
	index metaindex.Index
	log   log15.Logger
}

// New wraps an existing repository root. Use Init to create one first.
// index doubles as Commit's resolve.Finder and as the Notifier that learns
// about newly committed and removed jobs; a nil index disables query/
// query_all dependencies and index notification alike.
func New(root string, git *gitcache.Cache, index metaindex.Index, log log15.Logger) *Store {
	return &Store{Root: root, git: git, index: index, log: log}
}

type repositoryConfig struct {
	Version string `yaml:"version"`
}

// Init creates a new, empty repository at root.
func Init(root string) error {
	if err := os.MkdirAll(filepath.Join(root, "git"), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: root, Err: err}
	}
	if err := os.MkdirAll(filepath.Join(root, "jobs"), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: root, Err: err}
	}
	data, err := yaml.Marshal(repositoryConfig{Version: FormatVersion})
	if err != nil {
		return &errkind.IOError{Op: "marshal", Path: root, Err: err}
	}
	if err := os.WriteFile(filepath.Join(root, "r3.yaml"), data, 0o644); err != nil {
		return &errkind.IOError{Op: "write", Path: root, Err: err}
	}
	return nil
}

// CheckVersion refuses to operate against a repository written by an
// incompatible format version.
func CheckVersion(root string) error {
	path := filepath.Join(root, "r3.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return &errkind.IOError{Op: "read", Path: path, Err: err}
	}
	var cfg repositoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &errkind.ConfigError{Path: path, Reason: err.Error()}
	}
	if cfg.Version != FormatVersion {
		return &errkind.ConfigError{Path: path, Reason: "repository format version " + cfg.Version + " is not supported by this build; no legacy hash scheme reader is implemented"}
	}
	return nil
}

// jobsDir and gitDir are the two content-addressed trees a Store owns.
func (s *Store) jobsDir() string { return filepath.Join(s.Root, "jobs") }
func (s *Store) gitDir() string  { return filepath.Join(s.Root, "git") }

// Has reports whether id is already committed.
func (s *Store) Has(id string) bool {
	_, err := os.Stat(filepath.Join(s.jobsDir(), id))
	return err == nil
}

// CommitResult reports the outcome of a Commit call. AlreadyPresent is
// R3's content-addressed dedup case: committing an id that already
// exists is a success, not an error, mirroring
// original_source/r3/repository.py's "already exists" print path
// generalized into a typed result instead of a side-effecting log line.
type CommitResult struct {
	ID             string
	AlreadyPresent bool
}

// Commit stages, hashes, and moves the job at stagingDir into jobs/<id>/.
//
// Any query or query_all dependency is expanded against the metadata
// index first, and any git dependency's ref -- branch, tag, or a
// symbolic name given directly as commit -- is resolved to a full SHA,
// both before hashing, per §4.5's pre-commit resolution step.
func (s *Store) Commit(stagingDir string) (CommitResult, error) {
	lock, err := rlock.AcquireRepository(s.Root, lockTimeout)
	if err != nil {
		return CommitResult{}, err
	}
	defer lock.Unlock()

	manifest, err := config.Load(stagingDir)
	if err != nil {
		return CommitResult{}, err
	}

	if err := s.resolveQueryRefs(manifest); err != nil {
		return CommitResult{}, err
	}

	if err := s.resolveGitRefs(manifest); err != nil {
		return CommitResult{}, err
	}

	result, err := jobbuilder.Build(stagingDir, manifest)
	if err != nil {
		return CommitResult{}, err
	}

	if s.Has(result.ID) {
		s.log.Info("commit: job already present", "id", result.ID)
		return CommitResult{ID: result.ID, AlreadyPresent: true}, nil
	}

	// The commit time is informational only: Build never hashes the
	// manifest itself, so recording it here leaves the id unchanged.
	timestamp := time.Now().UTC().Format(time.RFC3339)
	result.Manifest.Timestamp = timestamp

	if err := s.stageAndPlace(stagingDir, result); err != nil {
		return CommitResult{}, err
	}

	for _, dep := range result.Manifest.Dependencies {
		if !dep.IsGit() {
			continue
		}
		if err := s.git.Pin(dep.Repository, result.ID, dep.Commit); err != nil {
			s.log.Warn("commit: failed to pin git dependency", "id", result.ID, "repository", dep.Repository, "error", err)
		}
	}

	if s.index != nil {
		entry := metaindex.Entry{
			JobID:        result.ID,
			Timestamp:    timestamp,
			Dependencies: result.Manifest.Dependencies,
		}
		if err := s.index.Notify(entry); err != nil {
			s.log.Warn("commit: index notification failed", "id", result.ID, "error", err)
		}
	}

	s.log.Info("commit: job stored", "id", result.ID)
	return CommitResult{ID: result.ID}, nil
}

// resolveQueryRefs expands every query and query_all dependency in
// manifest into one or more concrete job dependencies, per §4.5's
// pre-commit resolution step. It runs before resolveGitRefs because
// query_all can change the length of manifest.Dependencies, which
// resolveGitRefs then walks by stable index.
func (s *Store) resolveQueryRefs(manifest *config.Manifest) error {
	var resolved []config.Dependency
	for _, dep := range manifest.Dependencies {
		switch {
		case dep.QueryAll != "":
			if s.index == nil {
				return &errkind.ConfigError{Reason: "dependency uses query_all but no metadata index is configured"}
			}
			refs, err := resolve.QueryAll(s.index, dep.QueryAll, dep.Destination)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				resolved = append(resolved, config.Dependency{
					Job:         ref.Job,
					Source:      ref.Source,
					Destination: ref.Destination,
					QueryAll:    dep.QueryAll,
				})
			}
		case dep.Query != "":
			if s.index == nil {
				return &errkind.ConfigError{Reason: "dependency uses query but no metadata index is configured"}
			}
			ref, err := resolve.Query(s.index, dep.Query, dep.Source, dep.Destination, dep.Latest)
			if err != nil {
				return err
			}
			resolved = append(resolved, config.Dependency{
				Job:         ref.Job,
				Source:      ref.Source,
				Destination: ref.Destination,
				Query:       dep.Query,
				Latest:      dep.Latest,
			})
		default:
			resolved = append(resolved, dep)
		}
	}
	manifest.Dependencies = resolved
	return nil
}

// resolveGitRefs normalizes and resolves every git dependency's ref to a
// full commit SHA before hashing. It always calls resolve.Git, even when
// commit is already set: commit may itself be a symbolic ref (a branch
// or tag name given directly in that field, per §8 scenario S4), and
// only resolve.Git's normalization against the cache can tell whether
// it's already a full object id.
func (s *Store) resolveGitRefs(manifest *config.Manifest) error {
	for i, dep := range manifest.Dependencies {
		if !dep.IsGit() {
			continue
		}
		ref, err := resolve.Git(s.git, dep.Repository, dep.Commit, dep.Branch, dep.Tag, dep.Source, dep.Destination)
		if err != nil {
			return err
		}
		manifest.Dependencies[i].Repository = ref.Repository
		manifest.Dependencies[i].Commit = ref.Commit
		manifest.Dependencies[i].Branch = ""
		manifest.Dependencies[i].Tag = ""
	}
	return nil
}

// stageAndPlace copies the payload into a temporary sibling of jobs/<id>,
// write-protects it, and atomically renames it into place, per §4.7
// steps 4-6.
func (s *Store) stageAndPlace(stagingDir string, result *jobbuilder.Result) error {
	staging := filepath.Join(s.jobsDir(), ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: staging, Err: err}
	}
	// Best-effort cleanup on any failure past this point; a successful
	// rename below leaves nothing at `staging` to remove.
	ok := false
	defer func() {
		if !ok {
			os.RemoveAll(staging)
		}
	}()

	for rel := range result.Manifest.Files {
		if err := copyFile(filepath.Join(stagingDir, rel), filepath.Join(staging, rel)); err != nil {
			return err
		}
	}

	if err := config.Save(staging, result.Manifest); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(staging, config.OutputDir), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: staging, Err: err}
	}
	if err := os.WriteFile(filepath.Join(staging, config.MetadataFile), []byte("{}\n"), 0o644); err != nil {
		return &errkind.IOError{Op: "write", Path: staging, Err: err}
	}

	if err := writeProtect(staging); err != nil {
		return err
	}

	dest := filepath.Join(s.jobsDir(), result.ID)
	if err := os.Rename(staging, dest); err != nil {
		return &errkind.IOError{Op: "rename", Path: dest, Err: err}
	}
	ok = true
	return nil
}

// writeProtect makes every file read-only except metadata.yaml and
// everything under output/, per Invariant 1. Directories are left
// writable by owner so metadata.yaml can still be replaced and output/
// populated; a fully read-only directory tree is not required by the
// invariant and would make output/ unusable.
func writeProtect(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			return nil
		}
		if rel == config.MetadataFile {
			return nil
		}
		if rel == config.OutputDir || filepathHasPrefix(rel, config.OutputDir+string(filepath.Separator)) {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		return os.Chmod(path, 0o444)
	})
}

func filepathHasPrefix(path, prefix string) bool {
	return len(path) >= len(prefix) && path[:len(prefix)] == prefix
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: dst, Err: err}
	}
	in, err := os.Open(src)
	if err != nil {
		return &errkind.IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &errkind.IOError{Op: "create", Path: dst, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &errkind.IOError{Op: "copy", Path: dst, Err: err}
	}
	return nil
}

// Remove deletes a committed job, refusing if finder reports any job that
// still lists it as a job dependency. With a nil finder, or when the
// dependents lookup fails, no such check is made.
func (s *Store) Remove(id string, finder metaindex.Finder) error {
	lock, err := rlock.AcquireRepository(s.Root, lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if finder != nil {
		dependents, err := finder.Dependents(id)
		if err != nil {
			s.log.Warn("remove: dependents lookup failed, proceeding without the check", "id", id, "error", err)
		} else if len(dependents) > 0 {
			return &errkind.JobReferenced{JobID: id, Dependents: dependents}
		}
	}

	jobDir := filepath.Join(s.jobsDir(), id)
	manifest, err := config.Load(jobDir)
	if err != nil {
		return err
	}

	if err := unprotect(jobDir); err != nil {
		return err
	}
	if err := os.RemoveAll(jobDir); err != nil {
		return &errkind.IOError{Op: "remove", Path: jobDir, Err: err}
	}

	for _, dep := range manifest.Dependencies {
		if !dep.IsGit() {
			continue
		}
		if err := s.git.Unpin(dep.Repository, id); err != nil {
			s.log.Warn("remove: failed to unpin git dependency", "id", id, "repository", dep.Repository, "error", err)
		}
	}

	if s.index != nil {
		if err := s.index.Forget(id); err != nil {
			s.log.Warn("remove: index notification failed", "id", id, "error", err)
		}
	}
	return nil
}

func unprotect(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(path, 0o755)
		}
		return os.Chmod(path, 0o644)
	})
}

// Pull fetches remote's bare clone, refusing if the fetch would orphan
// any commit currently pinned by a stored job's dependency.
func (s *Store) Pull(remote string) error {
	normalized, err := gitcache.NormalizeRemote(remote)
	if err != nil {
		return err
	}
	return s.git.Fetch(normalized)
}

// Verify rehashes id's payload files and dependency records exactly as
// in the commit protocol and compares the result to id itself.
func (s *Store) Verify(id string) error {
	jobDir := filepath.Join(s.jobsDir(), id)
	manifest, err := config.Load(jobDir)
	if err != nil {
		return err
	}

	result, err := jobbuilder.Build(jobDir, manifest)
	if err != nil {
		return err
	}
	if result.ID != id {
		return &errkind.IntegrityError{JobID: id, Reason: "recomputed hash " + result.ID + " does not match stored id"}
	}
	return nil
}
