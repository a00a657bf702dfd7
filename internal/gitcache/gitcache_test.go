package gitcache

import (
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/r3fs/r3/internal/errkind"
	"github.com/r3fs/r3/internal/r3log"
	"github.com/r3fs/r3/internal/rlock"
)

func TestNormalizeRemoteGithubForms(t *testing.T) {
	Convey("Given equivalent github remote spellings", t, func() {
		forms := []string{
			"https://github.com/example/widget",
			"https://github.com/example/widget.git",
			"git@github.com:example/widget.git",
			"git@github.com:example/widget",
		}

		Convey("they all normalize to the same https URL", func() {
			for _, f := range forms {
				got, err := NormalizeRemote(f)
				So(err, ShouldBeNil)
				So(got, ShouldEqual, "https://github.com/example/widget")
			}
		})
	})
}

func TestNormalizeRemoteRejectsGarbage(t *testing.T) {
	Convey("Given a string that isn't a usable git endpoint", t, func() {
		_, err := NormalizeRemote("not a url at all\x00")

		Convey("normalization fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSlugifyRemoteIsStableAndUnique(t *testing.T) {
	Convey("Given two different remote URLs", t, func() {
		a := slugifyRemote("https://github.com/example/one")
		b := slugifyRemote("https://github.com/example/two")

		Convey("their slugs differ", func() {
			So(a, ShouldNotEqual, b)
		})

		Convey("the same URL always slugifies the same way", func() {
			So(slugifyRemote("https://github.com/example/one"), ShouldEqual, a)
		})
	})
}

func TestClonePathIsKeyedByHostOwnerName(t *testing.T) {
	Convey("Given a cache and a normalized github remote", t, func() {
		c := New(t.TempDir(), r3log.Discard())

		Convey("its clone path is <root>/github.com/<owner>/<name>", func() {
			path := c.clonePath("https://github.com/example/widget")
			So(path, ShouldEqual, filepath.Join(c.root, "github.com", "example", "widget"))
		})
	})

	Convey("Given a non-github remote over ssh", t, func() {
		c := New(t.TempDir(), r3log.Discard())

		Convey("its clone path still resolves to <root>/<host>/<path...>", func() {
			path := c.clonePath("git@example.org:group/sub/project.git")
			So(path, ShouldEqual, filepath.Join(c.root, "example.org", "group", "sub", "project"))
		})
	})

	Convey("Given a remote transport.NewEndpoint can't parse into a host and path", t, func() {
		c := New(t.TempDir(), r3log.Discard())

		Convey("its clone path falls back to a stable hash slug", func() {
			path := c.clonePath("not a url at all\x00")
			So(path, ShouldEqual, filepath.Join(c.root, slugifyRemote("not a url at all\x00")))
		})
	})
}

func TestGitCacheLockIsExclusivePerRemote(t *testing.T) {
	Convey("Given a cache and a lock already held on one remote", t, func() {
		c := New(t.TempDir(), r3log.Discard())
		const remoteA = "https://github.com/example/locked"
		const remoteB = "https://github.com/example/other"

		held, err := c.lock(remoteA)
		So(err, ShouldBeNil)
		defer held.Unlock()

		Convey("a second acquisition on the same remote times out", func() {
			path := c.clonePath(remoteA)
			_, err := rlock.AcquireGitCache(path, 100*time.Millisecond)
			So(err, ShouldNotBeNil)
			So(err, ShouldHaveSameTypeAs, &errkind.LockTimeout{})
		})

		Convey("a different remote's lock is unaffected", func() {
			other, err := c.lock(remoteB)
			So(err, ShouldBeNil)
			defer other.Unlock()
		})
	})
}
