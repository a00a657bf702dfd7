package resolve

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/r3fs/r3/internal/errkind"
)

type stubFinder struct {
	ids []string
	err error
}

func (s stubFinder) Find(tags []string) ([]string, error) {
	return s.ids, s.err
}

func TestJobKeepsGivenSource(t *testing.T) {
	Convey("Given a job dependency with no explicit source", t, func() {
		ref := Job("abc123", "", "data")

		Convey("source stays empty, meaning the whole item", func() {
			So(ref.Source, ShouldEqual, "")
			So(ref.Job, ShouldEqual, "abc123")
			So(ref.Destination, ShouldEqual, "data")
		})
	})
}

func TestQuerySingleMatchResolves(t *testing.T) {
	Convey("Given a finder with exactly one match", t, func() {
		finder := stubFinder{ids: []string{"only"}}

		Convey("Query resolves to it without needing latest", func() {
			ref, err := Query(finder, "#data/xyz", "output", "data", false)
			So(err, ShouldBeNil)
			So(ref.Job, ShouldEqual, "only")
			So(ref.Source, ShouldEqual, "output")
		})
	})
}

func TestQueryMultipleMatchesIsAmbiguous(t *testing.T) {
	Convey("Given a finder with more than one match", t, func() {
		finder := stubFinder{ids: []string{"newest", "older"}}

		Convey("Query without latest fails with AmbiguousDependency", func() {
			_, err := Query(finder, "#data/xyz", "output", "data", false)
			So(err, ShouldHaveSameTypeAs, &errkind.AmbiguousDependency{})
		})

		Convey("Query with latest returns the first match as the resolved job", func() {
			ref, err := Query(finder, "#data/xyz", "output", "data", true)
			So(err, ShouldBeNil)
			So(ref.Job, ShouldEqual, "newest")
			So(ref.Source, ShouldEqual, "output")
		})
	})
}

func TestQueryNoMatchesIsDependencyNotFound(t *testing.T) {
	Convey("Given a finder with no matches", t, func() {
		finder := stubFinder{ids: nil}

		Convey("Query fails with DependencyNotFound", func() {
			_, err := Query(finder, "#data/xyz", "", "data", false)
			So(err, ShouldHaveSameTypeAs, &errkind.DependencyNotFound{})
		})
	})
}

func TestQueryAllChecksOutEachMatchByID(t *testing.T) {
	Convey("Given a finder with several matches", t, func() {
		finder := stubFinder{ids: []string{"a", "b", "c"}}

		Convey("each match gets its own subdirectory named after its id", func() {
			refs, err := QueryAll(finder, "#data/xyz", "data")
			So(err, ShouldBeNil)
			So(refs, ShouldHaveLength, 3)
			So(refs[0].Destination, ShouldEqual, "data/a")
			So(refs[1].Destination, ShouldEqual, "data/b")
			So(refs[2].Destination, ShouldEqual, "data/c")
		})
	})
}

func TestGitRejectsBothBranchAndTag(t *testing.T) {
	Convey("Given a git dependency naming both a branch and a tag", t, func() {
		_, err := Git(nil, "https://github.com/example/widget", "", "main", "v1", "", "vendor")

		Convey("resolution fails with a ConfigError", func() {
			So(err, ShouldHaveSameTypeAs, &errkind.ConfigError{})
		})
	})
}

func TestGitRejectsMissingRef(t *testing.T) {
	Convey("Given a git dependency with no commit, branch, or tag", t, func() {
		_, err := Git(nil, "https://github.com/example/widget", "", "", "", "", "vendor")

		Convey("resolution fails with a ConfigError", func() {
			So(err, ShouldHaveSameTypeAs, &errkind.ConfigError{})
		})
	})
}
