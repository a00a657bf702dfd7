package checkout

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/r3fs/r3/internal/config"
	"github.com/r3fs/r3/internal/errkind"
)

func writeJob(t *testing.T, jobsDir, id string, files map[string]string, manifest string) {
	t.Helper()
	dir := filepath.Join(jobsDir, id)
	for rel, contents := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, config.OutputDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.MetadataFile), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheckoutCopiesPayloadAndSymlinksOutput(t *testing.T) {
	Convey("Given a committed job with one payload file", t, func() {
		jobsDir := t.TempDir()
		writeJob(t, jobsDir, "job-a", map[string]string{"data.txt": "hello"}, `
files:
  data.txt: deadbeef
`)
		engine := New(jobsDir, t.TempDir(), nil)
		target := filepath.Join(t.TempDir(), "out")

		Convey("Checkout copies the payload file and symlinks output/", func() {
			So(engine.Checkout("job-a", target), ShouldBeNil)

			contents, err := os.ReadFile(filepath.Join(target, "data.txt"))
			So(err, ShouldBeNil)
			So(string(contents), ShouldEqual, "hello")

			info, err := os.Lstat(filepath.Join(target, config.OutputDir))
			So(err, ShouldBeNil)
			So(info.Mode()&os.ModeSymlink, ShouldNotEqual, 0)
		})
	})
}

func TestCheckoutRefusesExistingTarget(t *testing.T) {
	Convey("Given a target directory that already exists", t, func() {
		jobsDir := t.TempDir()
		writeJob(t, jobsDir, "job-a", nil, "files: {}\n")
		engine := New(jobsDir, t.TempDir(), nil)
		target := t.TempDir()

		Convey("Checkout fails with a CheckoutConflict", func() {
			err := engine.Checkout("job-a", target)
			So(err, ShouldHaveSameTypeAs, &errkind.CheckoutConflict{})
		})
	})
}

func TestCheckoutSymlinksJobDependency(t *testing.T) {
	Convey("Given a job that depends on another stored job", t, func() {
		jobsDir := t.TempDir()
		writeJob(t, jobsDir, "base", map[string]string{"model.bin": "weights"}, "files:\n  model.bin: deadbeef\n")
		writeJob(t, jobsDir, "derived", nil, `
dependencies:
  - job: base
    destination: base-data
files: {}
`)
		engine := New(jobsDir, t.TempDir(), nil)
		target := filepath.Join(t.TempDir(), "out")

		Convey("Checkout symlinks the dependency destination into the base job", func() {
			So(engine.Checkout("derived", target), ShouldBeNil)

			link := filepath.Join(target, "base-data")
			info, err := os.Lstat(link)
			So(err, ShouldBeNil)
			So(info.Mode()&os.ModeSymlink, ShouldNotEqual, 0)

			resolved, err := os.Readlink(link)
			So(err, ShouldBeNil)
			So(resolved, ShouldEqual, filepath.Join(jobsDir, "base"))
		})
	})
}

func TestCheckoutFailsOnMissingJobDependency(t *testing.T) {
	Convey("Given a job that depends on a job that isn't stored", t, func() {
		jobsDir := t.TempDir()
		writeJob(t, jobsDir, "derived", nil, `
dependencies:
  - job: does-not-exist
    destination: base-data
files: {}
`)
		engine := New(jobsDir, t.TempDir(), nil)
		target := filepath.Join(t.TempDir(), "out")

		Convey("Checkout fails with DependencyNotFound", func() {
			err := engine.Checkout("derived", target)
			So(err, ShouldHaveSameTypeAs, &errkind.DependencyNotFound{})
		})
	})
}
