package metaindex

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/r3fs/r3/internal/config"
)

func openTestSQLite(t *testing.T) *SQLiteIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSQLiteIndexNotifyAndFind(t *testing.T) {
	Convey("Given a fresh SQLite index", t, func() {
		idx := openTestSQLite(t)

		Convey("notifying two jobs with overlapping tags", func() {
			So(idx.Notify(Entry{JobID: "job-a", Tags: []string{"data", "raw"}, Timestamp: "2026-01-01 00:00:00"}), ShouldBeNil)
			So(idx.Notify(Entry{JobID: "job-b", Tags: []string{"data", "processed"}, Timestamp: "2026-01-02 00:00:00"}), ShouldBeNil)

			Convey("Find requiring both tags matches only the first job", func() {
				matches, err := idx.Find([]string{"data", "raw"})
				So(err, ShouldBeNil)
				So(matches, ShouldResemble, []string{"job-a"})
			})

			Convey("Find with no tags returns every job, most recent first", func() {
				matches, err := idx.Find(nil)
				So(err, ShouldBeNil)
				So(matches, ShouldResemble, []string{"job-b", "job-a"})
			})
		})
	})
}

func TestSQLiteIndexForgetCascadesTags(t *testing.T) {
	Convey("Given an indexed job", t, func() {
		idx := openTestSQLite(t)
		So(idx.Notify(Entry{JobID: "job-a", Tags: []string{"data"}, Timestamp: "2026-01-01 00:00:00"}), ShouldBeNil)

		Convey("forgetting it removes both the job row and its tags", func() {
			So(idx.Forget("job-a"), ShouldBeNil)
			matches, err := idx.Find([]string{"data"})
			So(err, ShouldBeNil)
			So(matches, ShouldBeEmpty)
		})
	})
}

func TestSQLiteIndexDependents(t *testing.T) {
	Convey("Given a job that depends on another", t, func() {
		idx := openTestSQLite(t)
		So(idx.Notify(Entry{
			JobID:        "child",
			Timestamp:    "2026-01-01 00:00:00",
			Dependencies: []config.Dependency{{Job: "parent", Destination: "data"}},
		}), ShouldBeNil)

		Convey("Dependents finds the child", func() {
			deps, err := idx.Dependents("parent")
			So(err, ShouldBeNil)
			So(deps, ShouldResemble, []string{"child"})
		})
	})
}

func TestSQLiteIndexRebuildIsIdempotent(t *testing.T) {
	Convey("Given an index rebuilt twice from the same entries", t, func() {
		idx := openTestSQLite(t)
		entries := []Entry{{JobID: "a", Tags: []string{"x"}, Timestamp: "2026-01-01 00:00:00"}}

		Convey("both rebuilds leave the same queryable state", func() {
			So(idx.Rebuild(entries), ShouldBeNil)
			first, err := idx.Find([]string{"x"})
			So(err, ShouldBeNil)

			So(idx.Rebuild(entries), ShouldBeNil)
			second, err := idx.Find([]string{"x"})
			So(err, ShouldBeNil)

			So(second, ShouldResemble, first)
		})
	})
}
