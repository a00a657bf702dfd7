package metaindex

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/r3fs/r3/internal/config"
)

func TestYAMLIndexNotifyAndFind(t *testing.T) {
	Convey("Given a fresh YAML index", t, func() {
		path := filepath.Join(t.TempDir(), "index.yaml")
		idx, err := OpenYAML(path)
		So(err, ShouldBeNil)

		Convey("notifying two jobs with overlapping tags", func() {
			So(idx.Notify(Entry{JobID: "job-a", Tags: []string{"data", "raw"}, Timestamp: "2026-01-01 00:00:00"}), ShouldBeNil)
			So(idx.Notify(Entry{JobID: "job-b", Tags: []string{"data", "processed"}, Timestamp: "2026-01-02 00:00:00"}), ShouldBeNil)

			Convey("Find with a shared tag returns both, most recent first", func() {
				matches, err := idx.Find([]string{"data"})
				So(err, ShouldBeNil)
				So(matches, ShouldContain, "job-a")
				So(matches, ShouldContain, "job-b")
				So(matches[0], ShouldEqual, "job-b")
			})

			Convey("Find requiring all tags narrows to one match", func() {
				matches, err := idx.Find([]string{"data", "raw"})
				So(err, ShouldBeNil)
				So(matches, ShouldResemble, []string{"job-a"})
			})

			Convey("Find with an unused tag returns nothing", func() {
				matches, err := idx.Find([]string{"nonexistent"})
				So(err, ShouldBeNil)
				So(matches, ShouldBeEmpty)
			})
		})
	})
}

func TestYAMLIndexForget(t *testing.T) {
	Convey("Given an index with one entry", t, func() {
		path := filepath.Join(t.TempDir(), "index.yaml")
		idx, err := OpenYAML(path)
		So(err, ShouldBeNil)
		So(idx.Notify(Entry{JobID: "job-a", Tags: []string{"data"}, Timestamp: "2026-01-01 00:00:00"}), ShouldBeNil)

		Convey("forgetting it removes it from future queries", func() {
			So(idx.Forget("job-a"), ShouldBeNil)
			matches, err := idx.Find([]string{"data"})
			So(err, ShouldBeNil)
			So(matches, ShouldBeEmpty)
		})
	})
}

func TestYAMLIndexDependents(t *testing.T) {
	Convey("Given an index with a job that depends on another", t, func() {
		path := filepath.Join(t.TempDir(), "index.yaml")
		idx, err := OpenYAML(path)
		So(err, ShouldBeNil)
		So(idx.Notify(Entry{
			JobID:        "child",
			Timestamp:    "2026-01-01 00:00:00",
			Dependencies: []config.Dependency{{Job: "parent", Destination: "data"}},
		}), ShouldBeNil)

		Convey("Dependents finds the child from the parent's id", func() {
			deps, err := idx.Dependents("parent")
			So(err, ShouldBeNil)
			So(deps, ShouldResemble, []string{"child"})
		})
	})
}

func TestYAMLIndexPersistsAcrossReopen(t *testing.T) {
	Convey("Given an index written and closed", t, func() {
		path := filepath.Join(t.TempDir(), "index.yaml")
		idx, err := OpenYAML(path)
		So(err, ShouldBeNil)
		So(idx.Notify(Entry{JobID: "job-a", Tags: []string{"data"}, Timestamp: "2026-01-01 00:00:00"}), ShouldBeNil)

		Convey("reopening the same path recovers the entry", func() {
			reopened, err := OpenYAML(path)
			So(err, ShouldBeNil)
			matches, err := reopened.Find([]string{"data"})
			So(err, ShouldBeNil)
			So(matches, ShouldResemble, []string{"job-a"})
		})
	})
}

func TestYAMLIndexRebuild(t *testing.T) {
	Convey("Given an index with stale entries", t, func() {
		path := filepath.Join(t.TempDir(), "index.yaml")
		idx, err := OpenYAML(path)
		So(err, ShouldBeNil)
		So(idx.Notify(Entry{JobID: "stale", Tags: []string{"old"}, Timestamp: "2025-01-01 00:00:00"}), ShouldBeNil)

		Convey("Rebuild replaces the entire entry set", func() {
			So(idx.Rebuild([]Entry{{JobID: "fresh", Tags: []string{"new"}, Timestamp: "2026-01-01 00:00:00"}}), ShouldBeNil)

			stale, err := idx.Find([]string{"old"})
			So(err, ShouldBeNil)
			So(stale, ShouldBeEmpty)

			fresh, err := idx.Find([]string{"new"})
			So(err, ShouldBeNil)
			So(fresh, ShouldResemble, []string{"fresh"})
		})
	})
}
