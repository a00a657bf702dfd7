/*
	Package checkout materializes a committed job into a target directory:
	payload files are copied (never linked, so edits in the checkout can't
	corrupt the store), output/ is symlinked back into the job's own
	mutable output directory, and dependencies are symlinked or worktree-
	materialized into place.

	Grounded on original_source/r3/storage.py's checkout_job /
	checkout_job_dependency / checkout_git_dependency methods, adapted from
	shelling out to `git` (the original's git-version-aware fast path) to
	driving internal/gitcache's go-git-backed Worktree directly.
*/
package checkout

import (
	"io"
	"os"
	"path/filepath"

	"github.com/r3fs/r3/internal/config"
	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/gitcache"
	"github.com/r3fs/r3/internal/hashutil"
)

// Engine materializes jobs out of a repository's jobs/ tree.
type Engine struct {
	JobsDir  string
	Git      *gitcache.Cache
	Worktree string // scratch directory git dependency worktrees are materialized under
}

// New returns an Engine rooted at the given jobs/ directory.
func New(jobsDir, worktreeDir string, git *gitcache.Cache) *Engine {
	return &Engine{JobsDir: jobsDir, Git: git, Worktree: worktreeDir}
}

// Checkout materializes job id into target, which must not already exist.
func (e *Engine) Checkout(id, target string) error {
	if _, err := os.Stat(target); err == nil {
		return &errkind.CheckoutConflict{Path: target}
	}

	jobDir := filepath.Join(e.JobsDir, id)
	manifest, err := config.Load(jobDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: target, Err: err}
	}

	for rel := range manifest.Files {
		if err := copyReadOnly(filepath.Join(jobDir, rel), filepath.Join(target, rel)); err != nil {
			return err
		}
	}

	outputLink := filepath.Join(target, config.OutputDir)
	if err := os.Symlink(filepath.Join(jobDir, config.OutputDir), outputLink); err != nil {
		return &errkind.IOError{Op: "symlink", Path: outputLink, Err: err}
	}

	for _, dep := range manifest.Dependencies {
		if err := e.checkoutDependency(target, dep); err != nil {
			return err
		}
	}

	metaSrc := filepath.Join(jobDir, config.MetadataFile)
	metaDst := filepath.Join(target, config.MetadataFile)
	if err := copyFile(metaSrc, metaDst, 0o644); err != nil {
		return err
	}

	return nil
}

func (e *Engine) checkoutDependency(target string, dep config.Dependency) error {
	dst := filepath.Join(target, dep.Destination)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: dst, Err: err}
	}

	if !dep.IsGit() {
		if dep.Job == "" {
			return &errkind.ConfigError{Path: dep.Destination, Reason: "job dependency missing a job id at checkout time"}
		}
		src := filepath.Join(e.JobsDir, dep.Job)
		if dep.Source != "" {
			src = filepath.Join(src, dep.Source)
		}
		if _, err := os.Stat(src); err != nil {
			return &errkind.DependencyNotFound{Reference: dep.Job}
		}
		if err := os.Symlink(src, dst); err != nil {
			return &errkind.IOError{Op: "symlink", Path: dst, Err: err}
		}
		return nil
	}

	worktreeDir := filepath.Join(e.Worktree, gitWorktreeSlug(dep.Repository, dep.Commit))
	if _, err := os.Stat(worktreeDir); err != nil {
		if err := e.Git.Worktree(dep.Repository, dep.Commit, worktreeDir); err != nil {
			return err
		}
	}

	src := worktreeDir
	if dep.Source != "" {
		src = filepath.Join(worktreeDir, dep.Source)
	}
	if err := os.Symlink(src, dst); err != nil {
		return &errkind.IOError{Op: "symlink", Path: dst, Err: err}
	}
	return nil
}

// gitWorktreeSlug names the scratch worktree directory for a (repository,
// commit) pair. Keying on the repository too avoids two different remotes
// that happen to share a commit hash colliding in the scratch area.
func gitWorktreeSlug(repository, commit string) string {
	return hashutil.HashString(repository) + "-" + commit
}

func copyReadOnly(src, dst string) error {
	return copyFile(src, dst, 0o444)
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &errkind.IOError{Op: "mkdir", Path: dst, Err: err}
	}
	in, err := os.Open(src)
	if err != nil {
		return &errkind.IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &errkind.IOError{Op: "create", Path: dst, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &errkind.IOError{Op: "copy", Path: dst, Err: err}
	}
	return nil
}
