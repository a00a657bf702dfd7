/*
	Package resolve turns the dependency shapes a manifest may name --
	a direct job reference, a query, a query-all, or a git reference by
	branch/tag/commit -- into the two shapes R3 ever hashes or checks
	out: a resolved job dependency and a resolved git dependency pinned
	to a full commit SHA.

	The dependency variants and their resolution rules are grounded on
	original_source/r3/job.py's Dependency/JobDependency/QueryDependency/
	QueryAllDependency/GitDependency hierarchy. Ref resolution itself is
	delegated to internal/gitcache, which owns the actual git plumbing.
*/
package resolve

import (
	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/gitcache"
)

// Finder is the minimal query collaborator resolve needs from the
// metadata index: given a normalized tag set, return the job IDs that
// match, most recent first. The query sublanguage itself lives outside
// this package's scope.
type Finder interface {
	Find(tags []string) ([]string, error)
}

// JobRef is a fully resolved dependency on another stored job.
type JobRef struct {
	Job         string
	Source      string
	Destination string
}

// GitRef is a fully resolved dependency on a git commit.
type GitRef struct {
	Repository  string
	Commit      string
	Source      string
	Destination string
}

// Job resolves a job-reference dependency. There's nothing to look up --
// the job id is already concrete -- source is left as given; an empty
// source means "the whole item", per §3's dependency record constraints.
func Job(job, source, destination string) JobRef {
	return JobRef{Job: job, Source: source, Destination: destination}
}

// Query resolves a query dependency to a single matching job. It fails
// with DependencyNotFound if nothing matches, and with
// AmbiguousDependency if more than one job matches and latest is false.
// A caller that explicitly wants "most recent wins" semantics passes
// latest true, relying on Finder.Find returning matches most recent
// first.
func Query(finder Finder, query, source, destination string, latest bool) (JobRef, error) {
	matches, err := finder.Find(splitTags(query))
	if err != nil {
		return JobRef{}, err
	}
	if len(matches) == 0 {
		return JobRef{}, &errkind.DependencyNotFound{Reference: query}
	}
	if len(matches) > 1 && !latest {
		return JobRef{}, &errkind.AmbiguousDependency{Reference: query, Matches: len(matches)}
	}
	return Job(matches[0], source, destination), nil
}

// QueryAll resolves a query-all dependency to every matching job. Per
// QueryAllDependency's contract, each match is checked out to its own
// subdirectory of destination named after the job id, so no source or
// per-match destination is threaded through here.
func QueryAll(finder Finder, query, destination string) ([]JobRef, error) {
	matches, err := finder.Find(splitTags(query))
	if err != nil {
		return nil, err
	}
	refs := make([]JobRef, 0, len(matches))
	for _, id := range matches {
		refs = append(refs, JobRef{Job: id, Source: "", Destination: destination + "/" + id})
	}
	return refs, nil
}

// Git resolves a git dependency to a concrete commit. If commit is set it
// takes precedence and is resolved through the cache like any other ref,
// so a short SHA or a symbolic name becomes a full SHA; otherwise exactly
// one of branch or tag must be set and is resolved through the cache.
func Git(cache *gitcache.Cache, repository, commit, branch, tag, source, destination string) (GitRef, error) {
	if branch != "" && tag != "" {
		return GitRef{}, &errkind.ConfigError{Reason: "git dependency cannot specify both branch and tag"}
	}

	remote, err := gitcache.NormalizeRemote(repository)
	if err != nil {
		return GitRef{}, err
	}

	ref := commit
	switch {
	case commit != "":
		ref = commit
	case branch != "":
		ref = branch
	case tag != "":
		ref = tag
	default:
		return GitRef{}, &errkind.ConfigError{Reason: "git dependency needs one of commit, branch, or tag"}
	}

	sha, err := cache.ResolveRef(remote, ref)
	if err != nil {
		return GitRef{}, err
	}

	return GitRef{Repository: remote, Commit: sha, Source: source, Destination: destination}, nil
}

// splitTags is a placeholder normalization step for the query
// sublanguage: R3's core only ever needs an already-normalized tag set,
// per original_source/r3/query.py staying out of core scope. Callers
// that want mongo-style query strings parse them before calling Query.
func splitTags(query string) []string {
	if query == "" {
		return nil
	}
	return []string{query}
}
