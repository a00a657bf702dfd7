package metaindex

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/r3fs/r3/internal/errkind"
)

// SQLiteIndex is the metaindex.Index backend for repositories large
// enough that rewriting one YAML document on every commit becomes the
// bottleneck. It's the same Notifier/Finder contract as YAMLIndex, backed
// by three normalized tables instead of one flat map.
type SQLiteIndex struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tags (
	job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	tag TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
CREATE TABLE IF NOT EXISTS dependencies (
	job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	dependency_job TEXT
);
CREATE INDEX IF NOT EXISTS idx_dependencies_job ON dependencies(dependency_job);
`

// OpenSQLite opens (creating if needed) the SQLite index at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &errkind.IOError{Op: "open", Path: path, Err: err}
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, &errkind.IOError{Op: "pragma", Path: path, Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, &errkind.IOError{Op: "migrate", Path: path, Err: err}
	}
	return &SQLiteIndex{db: db}, nil
}

func (idx *SQLiteIndex) Close() error {
	return idx.db.Close()
}

func (idx *SQLiteIndex) Notify(entry Entry) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return &errkind.IOError{Op: "begin", Path: entry.JobID, Err: err}
	}
	defer tx.Rollback()

	if err := writeEntry(tx, entry); err != nil {
		return err
	}
	return commit(tx, entry.JobID)
}

func (idx *SQLiteIndex) Forget(jobID string) error {
	if _, err := idx.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, jobID); err != nil {
		return &errkind.IOError{Op: "delete", Path: jobID, Err: err}
	}
	return nil
}

func (idx *SQLiteIndex) Find(tags []string) ([]string, error) {
	if len(tags) == 0 {
		rows, err := idx.db.Query(`SELECT job_id FROM jobs ORDER BY timestamp DESC`)
		if err != nil {
			return nil, &errkind.IOError{Op: "query", Path: "jobs", Err: err}
		}
		defer rows.Close()
		return scanIDs(rows)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]interface{}, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, int64(len(tags)))

	query := `
		SELECT jobs.job_id FROM jobs
		JOIN tags ON tags.job_id = jobs.job_id
		WHERE tags.tag IN (` + placeholders + `)
		GROUP BY jobs.job_id
		HAVING COUNT(DISTINCT tags.tag) = ?
		ORDER BY jobs.timestamp DESC
	`
	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, &errkind.IOError{Op: "query", Path: "tags", Err: err}
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (idx *SQLiteIndex) Dependents(jobID string) ([]string, error) {
	rows, err := idx.db.Query(`SELECT DISTINCT job_id FROM dependencies WHERE dependency_job = ?`, jobID)
	if err != nil {
		return nil, &errkind.IOError{Op: "query", Path: "dependencies", Err: err}
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (idx *SQLiteIndex) Rebuild(entries []Entry) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return &errkind.IOError{Op: "begin", Path: "rebuild", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM dependencies", "DELETE FROM tags", "DELETE FROM jobs"} {
		if _, err := tx.Exec(stmt); err != nil {
			return &errkind.IOError{Op: "clear", Path: "rebuild", Err: err}
		}
	}
	for _, e := range entries {
		if err := writeEntry(tx, e); err != nil {
			return err
		}
	}
	return commit(tx, "rebuild")
}

func writeEntry(tx *sql.Tx, entry Entry) error {
	if _, err := tx.Exec(`DELETE FROM jobs WHERE job_id = ?`, entry.JobID); err != nil {
		return &errkind.IOError{Op: "delete", Path: entry.JobID, Err: err}
	}
	if _, err := tx.Exec(`INSERT INTO jobs (job_id, timestamp) VALUES (?, ?)`, entry.JobID, entry.Timestamp); err != nil {
		return &errkind.IOError{Op: "insert", Path: entry.JobID, Err: err}
	}
	for _, tag := range entry.Tags {
		if _, err := tx.Exec(`INSERT INTO tags (job_id, tag) VALUES (?, ?)`, entry.JobID, tag); err != nil {
			return &errkind.IOError{Op: "insert tag", Path: entry.JobID, Err: err}
		}
	}
	for _, d := range entry.Dependencies {
		if d.Job == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO dependencies (job_id, dependency_job) VALUES (?, ?)`, entry.JobID, d.Job); err != nil {
			return &errkind.IOError{Op: "insert dependency", Path: entry.JobID, Err: err}
		}
	}
	return nil
}

func commit(tx *sql.Tx, resource string) error {
	if err := tx.Commit(); err != nil {
		return &errkind.IOError{Op: "commit", Path: resource, Err: err}
	}
	return nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errkind.IOError{Op: "scan", Path: "rows", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
