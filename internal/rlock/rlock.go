/*
	Package rlock provides the advisory file locks R3 takes before mutating
	a repository or a git cache entry: one lock file per repository for
	commit/remove, and one lock file per remote URL for git cache fetches
	and tag changes (including pull), so two processes never race on the
	same bare clone.

	No file-locking library appears anywhere in the example pack, so this
	wraps github.com/gofrs/flock directly rather than the raw syscall --
	see DESIGN.md for why a real ecosystem library was chosen here instead
	of a hand-rolled syscall.Flock wrapper.
*/
package rlock

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/r3fs/r3/internal/errkind"
)

// Lock wraps an acquired advisory lock. Callers release it with Unlock,
// typically via defer.
type Lock struct {
	fl       *flock.Flock
	resource string
}

// AcquireRepository takes the repository-wide exclusive lock at
// <repoRoot>/.r3-lock, blocking with retries until timeout elapses.
// Every commit and remove holds this lock for its full duration; pull
// takes only the per-remote lock (AcquireGitCache).
func AcquireRepository(repoRoot string, timeout time.Duration) (*Lock, error) {
	return acquire(filepath.Join(repoRoot, ".r3-lock"), "repository", timeout)
}

// AcquireGitCache takes the per-remote lock guarding a single bare clone
// directory, so a fetch on one process can't race a tag/untag on another.
func AcquireGitCache(cacheDir string, timeout time.Duration) (*Lock, error) {
	return acquire(filepath.Join(cacheDir, ".lock"), cacheDir, timeout)
}

func acquire(path, resource string, timeout time.Duration) (*Lock, error) {
	fl := flock.New(path)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &errkind.LockTimeout{Resource: resource}
		}
		return nil, &errkind.IOError{Op: "lock", Path: path, Err: err}
	}
	if !ok {
		return nil, &errkind.LockTimeout{Resource: resource}
	}
	return &Lock{fl: fl, resource: resource}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}
