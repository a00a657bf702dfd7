/*
	Package metaindex implements R3's metadata index: a derived,
	rebuildable, best-effort cache mapping tags to job ids so a caller can
	find jobs without scanning every manifest under jobs/.

	Two backends are provided behind the same Notifier/Finder pair: a
	YAML file grounded on original_source/r3/index.py's Index class
	(entries keyed by job id, tags plus dependency records per entry,
	rebuild-by-rescanning-storage), and a SQLite-backed one for
	repositories too large to comfortably parse as one YAML document on
	every query.

	The query sublanguage that turns a user-facing query string into a
	tag set stays out of this package's scope, matching
	original_source/r3/query.py being a self-contained, separately-scoped
	module: Finder.Find takes an already-normalized tag set.
*/
package metaindex

import "github.com/r3fs/r3/internal/config"

// Entry is one job's indexed record.
type Entry struct {
	JobID        string
	Tags         []string
	Timestamp    string
	Dependencies []config.Dependency
}

// Notifier receives best-effort index updates from the repository store.
// A Notify failure is logged by the caller and never fails a commit or
// removal.
type Notifier interface {
	Notify(entry Entry) error
	Forget(jobID string) error
}

// Finder answers tag-set queries against the index.
type Finder interface {
	// Find returns the job ids whose indexed tag set is a superset of
	// tags, most recently committed first.
	Find(tags []string) ([]string, error)
	// Dependents returns the job ids that directly list jobID as a job
	// dependency.
	Dependents(jobID string) ([]string, error)
}

// Index is implemented by both backends: it can both accept notifications
// and answer queries, and can be rebuilt from scratch by rescanning the
// jobs a Scanner provides.
type Index interface {
	Notifier
	Finder
	Rebuild(entries []Entry) error
}

// Scanner is the collaborator a rebuild uses to enumerate every currently
// committed job's entry, independent of which index backend is rebuilding.
type Scanner interface {
	ScanEntries() ([]Entry, error)
}
