/*
	Package jobbuilder implements the job hash protocol: walking a staged
	directory, hashing its payload files and dependency records, and
	combining both into the job's content-derived identifier.

	The walk-then-hash shape follows lib/fshash (Metadata.Marshal over a
	sorted bucket of hash-ready records) and lib/treewalk's pre/post-visit
	walker, adapted from "hash a filesystem tree" to "hash a filesystem
	tree plus a set of dependency records", which is the identity rule
	original_source/r3/job.py's Job.hash establishes and this repository's
	manifest format fixes as canonical.
*/
package jobbuilder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/r3fs/r3/internal/canon"
	"github.com/r3fs/r3/internal/config"
	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/hashutil"
	"github.com/r3fs/r3/internal/ignore"
)

// Entry is one line of the canonical entry list: a relative path and the
// hex digest recorded for it, whether that digest came from hashing file
// bytes or from hashing a dependency's canonical record.
type Entry struct {
	Path string
	Hash string
}

// Result is everything a build produces: the final identifier, the
// manifest ready to be frozen into the committed job (Files populated),
// and the concrete entry list, kept around for diagnostics.
type Result struct {
	ID       string
	Manifest *config.Manifest
	Entries  []Entry
}

// Build runs the full hash protocol (§4.1-§4.3) against a staged job
// directory. The manifest's dependencies must already be resolved --
// every git dependency's Commit field a full SHA, every query already
// expanded to a job id -- since resolution is internal/resolve's job, not
// this package's.
func Build(jobRoot string, manifest *config.Manifest) (*Result, error) {
	matcher := ignore.Compile(manifest.Ignore)

	files, err := walk(jobRoot, matcher, manifest.Dependencies)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(files)+len(manifest.Dependencies))
	fileDigests := make(map[string]string, len(files))

	for _, rel := range files {
		h, err := hashutil.HashFile(filepath.Join(jobRoot, rel))
		if err != nil {
			return nil, &errkind.IOError{Op: "hash", Path: rel, Err: err}
		}
		fileDigests[rel] = h
		entries = append(entries, Entry{Path: rel, Hash: h})
	}

	for _, dep := range manifest.Dependencies {
		h, err := hashDependency(dep)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: dep.Destination, Hash: h})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Path)
		sb.WriteByte(' ')
		sb.WriteString(e.Hash)
		sb.WriteByte('\n')
	}
	id := hashutil.HashString(sb.String())

	out := *manifest
	out.Files = fileDigests

	return &Result{ID: id, Manifest: &out, Entries: entries}, nil
}

// walk returns the set of relative paths that participate in the hash:
// everything under jobRoot except r3.yaml, metadata.yaml, output/, and
// anything matched by an ignore pattern.
func walk(jobRoot string, matcher *ignore.Matcher, deps []config.Dependency) ([]string, error) {
	destinations := make(map[string]bool, len(deps))
	for _, d := range deps {
		destinations[filepath.Clean(d.Destination)] = true
	}

	var files []string
	err := filepath.WalkDir(jobRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &errkind.IOError{Op: "walk", Path: path, Err: err}
		}
		if path == jobRoot {
			return nil
		}

		rel, err := filepath.Rel(jobRoot, path)
		if err != nil {
			return &errkind.IOError{Op: "relativize", Path: path, Err: err}
		}
		rel = filepath.ToSlash(rel)

		switch rel {
		case config.ManifestFile, config.MetadataFile:
			return nil
		case config.OutputDir:
			return filepath.SkipDir
		}

		if destinations[filepath.Clean(rel)] {
			// A dependency destination materialized by the checkout
			// engine is always a symlink (see internal/checkout); it
			// never participates in this job's own hash. A real file or
			// directory sitting at the same path is a payload/dependency
			// collision, which §9's Open Questions resolves as an error
			// at commit time rather than a silent override.
			if d.Type()&os.ModeSymlink != 0 {
				// WalkDir never descends into a symlink regardless of
				// what it points to, so there's nothing further to skip.
				return nil
			}
			return &errkind.ConfigError{Path: rel, Reason: "payload path collides with a dependency destination"}
		}

		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return &errkind.IOError{Op: "stat", Path: path, Err: err}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return &errkind.ConfigError{Path: rel, Reason: "symlinks are not allowed in a staged job unless they resolve to a dependency destination"}
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// hashDependency computes H(serialize(d')) where d' is dep with its query
// fields stripped and its keys in canonical order, per §4.3 step 4.
func hashDependency(dep config.Dependency) (string, error) {
	record := map[string]interface{}{
		"destination": dep.Destination,
		"source":      dep.Source,
	}
	if dep.IsGit() {
		if dep.Commit == "" {
			return "", &errkind.ConfigError{Path: dep.Destination, Reason: "git dependency must be resolved to a full commit before hashing"}
		}
		record["repository"] = dep.Repository
		record["commit"] = dep.Commit
	} else {
		if dep.Job == "" {
			return "", &errkind.ConfigError{Path: dep.Destination, Reason: "job dependency must be resolved to a job id before hashing"}
		}
		record["job"] = dep.Job
	}
	// query and query_all are informational provenance only; they never
	// enter the hash, per §3's dependency record constraints.

	encoded, err := canon.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encoding dependency record for %s: %w", dep.Destination, err)
	}
	return hashutil.HashBytes(encoded), nil
}
