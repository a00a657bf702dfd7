/*
	Package gitcache manages R3's local bare-clone cache for git
	dependencies: one bare repository per remote URL, fetched into on
	demand, with refs resolved to full commit SHAs and pinned by
	lightweight tags so a later fetch can never make a committed job's
	dependency unreachable.

	The clone-cache-by-remote-URL layout and the fetch-on-miss control flow
	are grounded on rio/transmat/impl/git2/git_internals.go (gitClone,
	gitFetch, slugifyRemote), rewritten against go-git v5's higher-level
	Repository API instead of hand-driving the upload-pack protocol, since
	v5 exposes Clone/Fetch/ResolveRevision directly.
*/
package gitcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/inconshreveable/log15"

	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/rlock"
)

// cacheLockTimeout bounds how long Fetch/Pin/Unpin wait for the per-remote
// lock guarding a bare clone's refs before giving up.
const cacheLockTimeout = 30 * time.Second

// pinnedTagPrefix marks the lightweight tags R3 places on git commits a
// stored job depends on, named "r3/<job-id>" per the repository's pinning
// invariant, so a bare clone's garbage collector (or a careless fetch
// --prune) can see they're still referenced.
const pinnedTagPrefix = "r3/"

// Cache manages a directory of bare git clones, one per remote URL.
type Cache struct {
	root string
	log  log15.Logger
}

// New returns a Cache rooted at dir. dir is created lazily on first use.
func New(dir string, log log15.Logger) *Cache {
	return &Cache{root: dir, log: log}
}

// clonePath returns the on-disk path of remote's bare clone: the cache
// root joined with <host>/<owner>/<name>, per spec.md §3/§6's documented
// git/<host>/<owner>/<name>/ layout -- the same resolved form
// GitDependency.repository_path builds in the original implementation,
// generalized past github.com to whatever host a remote names.
func (c *Cache) clonePath(remote string) string {
	segments := remotePathSegments(remote)
	return filepath.Join(append([]string{c.root}, segments...)...)
}

// remotePathSegments splits a git remote URL into the path components a
// clone is stored under. A remote that transport.NewEndpoint can't parse
// into a usable host and path falls back to a stable hash slug, so a
// pathologically-shaped URL still gets a unique, filesystem-safe
// directory rather than failing the clone outright.
func remotePathSegments(remote string) []string {
	endpoint, err := transport.NewEndpoint(remote)
	if err != nil {
		return []string{slugifyRemote(remote)}
	}
	path := strings.Trim(strings.TrimSuffix(endpoint.Path, ".git"), "/")
	if endpoint.Host == "" || path == "" {
		return []string{slugifyRemote(remote)}
	}
	return append([]string{endpoint.Host}, strings.Split(path, "/")...)
}

// lock acquires the per-remote git cache lock guarding remote's bare
// clone, so a concurrent Fetch/Pin/Unpin against the same URL serializes
// instead of racing on the clone's refs, per the repository's per-URL
// git lock invariant.
func (c *Cache) lock(remote string) (*rlock.Lock, error) {
	path := c.clonePath(remote)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &errkind.IOError{Op: "mkdir", Path: path, Err: err}
	}
	return rlock.AcquireGitCache(path, cacheLockTimeout)
}

// Open returns remote's bare clone, cloning it if this is the first time
// R3 has seen this URL.
func (c *Cache) Open(remote string) (*git.Repository, error) {
	path := c.clonePath(remote)

	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, &errkind.IOError{Op: "open git cache", Path: path, Err: err}
	}

	c.log.Info("git: cloning remote into cache", "remote", remote)
	repo, err = git.PlainClone(path, true, &git.CloneOptions{
		URL:  remote,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, &errkind.RefResolutionError{URL: remote, Ref: "", Err: err}
	}
	return repo, nil
}

// ResolveRef resolves ref -- a branch name, tag name, or commit SHA
// (full or abbreviated) -- against remote's cache, fetching once if ref
// isn't found locally. It returns the full 40-character commit SHA.
func (c *Cache) ResolveRef(remote, ref string) (string, error) {
	repo, err := c.Open(remote)
	if err != nil {
		return "", err
	}

	hash, err := resolveRevision(repo, ref)
	if err == nil {
		return hash.String(), nil
	}

	c.log.Info("git: ref not found locally, fetching", "remote", remote, "ref", ref)
	if fetchErr := c.Fetch(remote); fetchErr != nil {
		return "", fetchErr
	}

	hash, err = resolveRevision(repo, ref)
	if err != nil {
		return "", &errkind.RefResolutionError{URL: remote, Ref: ref, Err: err}
	}
	return hash.String(), nil
}

func resolveRevision(repo *git.Repository, ref string) (*plumbing.Hash, error) {
	return repo.ResolveRevision(plumbing.Revision(ref))
}

// Fetch updates remote's cache from upstream. It never passes a refspec
// that deletes tags, and it refuses the fetch's own result if any commit
// currently protected by an "r3/*" pin tag becomes unreachable, per the
// repository's pull invariant: a fetch must never orphan a pinned commit.
func (c *Cache) Fetch(remote string) error {
	lock, err := c.lock(remote)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repo, err := c.Open(remote)
	if err != nil {
		return err
	}

	before, err := c.PinnedCommits(remote)
	if err != nil {
		return err
	}

	err = repo.Fetch(&git.FetchOptions{
		RefSpecs: []config.RefSpec{
			config.RefSpec("+refs/heads/*:refs/heads/*"),
		},
		Tags: git.AllTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &errkind.RefResolutionError{URL: remote, Ref: "", Err: err}
	}

	for commit := range before {
		if _, err := repo.CommitObject(plumbing.NewHash(commit)); err != nil {
			return &errkind.IntegrityError{JobID: commit, Reason: "fetch would orphan a pinned git commit"}
		}
	}
	return nil
}

// Pin creates the lightweight tag "r3/<id>" on commit in remote's cache,
// marking it reachable for as long as job id is stored.
func (c *Cache) Pin(remote, id, commit string) error {
	lock, err := c.lock(remote)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repo, err := c.Open(remote)
	if err != nil {
		return err
	}
	name := pinnedTagPrefix + id
	_, err = repo.CreateTag(name, plumbing.NewHash(commit), nil)
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return &errkind.IOError{Op: "tag", Path: remote, Err: err}
	}
	return nil
}

// Unpin removes the "r3/<id>" tag, allowed once job id is no longer
// stored.
func (c *Cache) Unpin(remote, id string) error {
	lock, err := c.lock(remote)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repo, err := c.Open(remote)
	if err != nil {
		return err
	}
	name := pinnedTagPrefix + id
	if err := repo.DeleteTag(name); err != nil && !errors.Is(err, git.ErrTagNotFound) {
		return &errkind.IOError{Op: "untag", Path: remote, Err: err}
	}
	return nil
}

// PinnedCommits returns the set of commit hashes currently protected by an
// "r3/*" tag in remote's cache, used by Fetch to verify a fetch never
// orphans a pinned commit.
func (c *Cache) PinnedCommits(remote string) (map[string]bool, error) {
	repo, err := c.Open(remote)
	if err != nil {
		return nil, err
	}
	tagRefs, err := repo.Tags()
	if err != nil {
		return nil, &errkind.IOError{Op: "list tags", Path: remote, Err: err}
	}
	defer tagRefs.Close()

	pinned := map[string]bool{}
	err = tagRefs.ForEach(func(ref *plumbing.Reference) error {
		if strings.HasPrefix(ref.Name().Short(), pinnedTagPrefix) {
			pinned[ref.Hash().String()] = true
		}
		return nil
	})
	if err != nil {
		return nil, &errkind.IOError{Op: "iterate tags", Path: remote, Err: err}
	}
	return pinned, nil
}

// Worktree checks out commit from remote's cache into dir as a plain
// working tree, the way a git dependency is materialized for a checkout.
func (c *Cache) Worktree(remote, commit, dir string) error {
	if _, err := c.Open(remote); err != nil {
		return err
	}

	wtRepo, err := git.PlainInit(dir, false)
	if err != nil {
		return &errkind.IOError{Op: "init worktree", Path: dir, Err: err}
	}
	if _, err := wtRepo.CreateRemote(&config.RemoteConfig{
		Name: "cache",
		URLs: []string{c.clonePath(remote)},
	}); err != nil {
		return &errkind.IOError{Op: "add remote", Path: dir, Err: err}
	}
	if err := wtRepo.Fetch(&git.FetchOptions{
		RemoteName: "cache",
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("+%s:refs/r3fetch", commit))},
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &errkind.IOError{Op: "fetch into worktree", Path: dir, Err: err}
	}

	wt, err := wtRepo.Worktree()
	if err != nil {
		return &errkind.IOError{Op: "open worktree", Path: dir, Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commit)}); err != nil {
		return &errkind.IOError{Op: "checkout", Path: dir, Err: err}
	}

	return nil
}

// NormalizeRemote canonicalizes a git dependency's repository URL the way
// R3's job hash needs it normalized: strip a trailing ".git", and prefer
// the https form of a github.com remote so the same repository always
// hashes to the same string regardless of how the user wrote the URL.
func NormalizeRemote(remote string) (string, error) {
	remote = strings.TrimSuffix(remote, ".git")

	if m := githubSSHPattern.FindStringSubmatch(remote); m != nil {
		return fmt.Sprintf("https://github.com/%s/%s", m[1], m[2]), nil
	}
	if m := githubHTTPSPattern.FindStringSubmatch(remote); m != nil {
		return fmt.Sprintf("https://github.com/%s/%s", m[1], m[2]), nil
	}

	// transport.NewEndpoint accepts almost any string as a local file
	// path, so control characters (which no usable URL or path carries)
	// are rejected here first.
	if strings.IndexFunc(remote, unicode.IsControl) >= 0 {
		return "", &errkind.ConfigError{Reason: fmt.Sprintf("invalid git remote %q: contains control characters", remote)}
	}
	if _, err := transport.NewEndpoint(remote); err != nil {
		return "", &errkind.ConfigError{Reason: fmt.Sprintf("invalid git remote %q: %s", remote, err)}
	}
	return remote, nil
}

var (
	githubSSHPattern   = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)$`)
	githubHTTPSPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)$`)
)

// slugifyRemote turns a remote URL into a filesystem-safe cache directory
// name. Hashing the URL avoids fighting path-separator characters that
// legitimately appear in git URLs (ssh://, ':', etc).
func slugifyRemote(remote string) string {
	sum := sha256.Sum256([]byte(remote))
	return hex.EncodeToString(sum[:])
}
