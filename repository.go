package r3

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/inconshreveable/log15"
	"gopkg.in/yaml.v3"

	"github.com/r3fs/r3/internal/checkout"
	"github.com/r3fs/r3/internal/config"
	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/gitcache"
	"github.com/r3fs/r3/internal/metaindex"
	"github.com/r3fs/r3/internal/r3log"
	"github.com/r3fs/r3/internal/store"
)

// IndexBackend selects which metaindex implementation a Repository keeps
// its derived tag index in.
type IndexBackend int

const (
	// IndexYAML keeps the index as a single YAML document, suitable for
	// repositories with up to a few thousand jobs.
	IndexYAML IndexBackend = iota
	// IndexSQLite keeps the index in a SQLite database, for repositories
	// too large to comfortably parse as one YAML document per query.
	IndexSQLite
)

// Options configures Open.
type Options struct {
	// IndexBackend selects the metadata index implementation. Defaults
	// to IndexYAML.
	IndexBackend IndexBackend
	// Verbose enables debug-level logging to stderr. Defaults to false,
	// which logs at info level.
	Verbose bool
	// Logger overrides the default stderr logger entirely, e.g. to wire
	// R3 into a host application's own log15 tree. Takes precedence
	// over Verbose.
	Logger log15.Logger
}

// Repository is a handle on an initialized R3 repository directory.
type Repository struct {
	root     string
	store    *store.Store
	git      *gitcache.Cache
	index    metaindex.Index
	checkout *checkout.Engine
	log      log15.Logger
}

// Init creates a new, empty repository at root. The directory must not
// already contain one.
func Init(root string) error {
	return store.Init(root)
}

// Open wraps an existing repository at root, failing if its format
// version isn't one this build understands.
func Open(root string, opts Options) (*Repository, error) {
	if err := store.CheckVersion(root); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = r3log.New("r3", opts.Verbose)
	}

	git := gitcache.New(filepath.Join(root, "git"), log.New("component", "gitcache"))

	index, err := openIndex(root, opts.IndexBackend)
	if err != nil {
		return nil, err
	}

	s := store.New(root, git, index, log.New("component", "store"))
	worktreeDir := filepath.Join(root, ".r3-worktrees")
	engine := checkout.New(filepath.Join(root, "jobs"), worktreeDir, git)

	return &Repository{
		root:     root,
		store:    s,
		git:      git,
		index:    index,
		checkout: engine,
		log:      log,
	}, nil
}

func openIndex(root string, backend IndexBackend) (metaindex.Index, error) {
	switch backend {
	case IndexSQLite:
		return metaindex.OpenSQLite(filepath.Join(root, "index.sqlite"))
	default:
		return metaindex.OpenYAML(filepath.Join(root, "index.yaml"))
	}
}

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

// Close releases any resources the repository's index backend holds
// open, such as a SQLite connection. It's a no-op for the YAML backend.
func (r *Repository) Close() error {
	if closer, ok := r.index.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Has reports whether id is already committed.
func (r *Repository) Has(id string) bool { return r.store.Has(id) }

// Commit stages, hashes, and stores the job at stagingDir. Committing a
// job whose content hashes to an id that's already present is a
// successful no-op, reported via CommitResult.AlreadyPresent.
func (r *Repository) Commit(stagingDir string) (store.CommitResult, error) {
	return r.store.Commit(stagingDir)
}

// Remove deletes a committed job, refusing if another job still lists it
// as a dependency.
func (r *Repository) Remove(id string) error {
	return r.store.Remove(id, r.index)
}

// Pull fetches a git dependency remote's bare clone, refusing any fetch
// that would make a pinned commit unreachable.
func (r *Repository) Pull(remote string) error {
	return r.store.Pull(remote)
}

// Verify rehashes a committed job's contents and confirms they still
// match its identifier.
func (r *Repository) Verify(id string) error {
	return r.store.Verify(id)
}

// Checkout materializes job id into target, which must not already
// exist.
func (r *Repository) Checkout(id, target string) error {
	if !r.Has(id) {
		return &errkind.DependencyNotFound{Reference: id}
	}
	return r.checkout.Checkout(id, target)
}

// Find returns the ids of committed jobs whose metadata tags are a
// superset of tags, most recently committed first.
func (r *Repository) Find(tags []string) ([]string, error) {
	return r.index.Find(tags)
}

// Dependents returns the ids of jobs that directly list id as a job
// dependency.
func (r *Repository) Dependents(id string) ([]string, error) {
	return r.index.Dependents(id)
}

// RebuildIndex discards and regenerates the metadata index by rescanning
// every job currently under jobs/.
func (r *Repository) RebuildIndex() error {
	entries, err := (&jobScanner{jobsDir: filepath.Join(r.root, "jobs")}).ScanEntries()
	if err != nil {
		return err
	}
	return r.index.Rebuild(entries)
}

// jobScanner enumerates every committed job's index entry by rereading
// its manifest and metadata, grounded on original_source/r3/index.py's
// rebuild() walking Storage.jobs() instead of trusting the old index.
type jobScanner struct {
	jobsDir string
}

func (s *jobScanner) ScanEntries() ([]metaindex.Entry, error) {
	dirEntries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errkind.IOError{Op: "readdir", Path: s.jobsDir, Err: err}
	}

	var entries []metaindex.Entry
	for _, de := range dirEntries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		id := de.Name()
		jobDir := filepath.Join(s.jobsDir, id)

		manifest, err := config.Load(jobDir)
		if err != nil {
			continue // a job that fails to parse is skipped, not fatal to the rebuild
		}

		entries = append(entries, metaindex.Entry{
			JobID:        id,
			Tags:         readTags(jobDir),
			Timestamp:    manifest.Timestamp,
			Dependencies: manifest.Dependencies,
		})
	}
	return entries, nil
}

// readTags loads the "tags" field out of a job's mutable metadata.yaml,
// mirroring original_source/r3/index.py reading job.metadata.get("tags").
// A missing or unparsable metadata.yaml yields no tags rather than an
// error, since metadata is user-editable and best-effort by design.
func readTags(jobDir string) []string {
	data, err := os.ReadFile(filepath.Join(jobDir, config.MetadataFile))
	if err != nil {
		return nil
	}
	var meta struct {
		Tags []string `yaml:"tags"`
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return meta.Tags
}
