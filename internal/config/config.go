/*
	Package config loads and validates a job manifest (r3.yaml): the
	declarative document a staged job carries before it has been hashed
	or committed. Loading a manifest never touches git or the repository
	store -- that's internal/resolve's job -- config only checks shape.

	Grounded on the def package (def/base.go, def/validate.go,
	def/errors.go), which draws the same line between "parse and validate
	a manifest" and "act on it": R3's ConfigError plays the role of
	def's ValidationError class, but is returned rather than panicked.
*/
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r3fs/r3/internal/errkind"
)

// ManifestFile is the reserved, hashed configuration file every job root
// must carry.
const ManifestFile = "r3.yaml"

// MetadataFile is the reserved, unhashed, mutable annotation file.
const MetadataFile = "metadata.yaml"

// OutputDir is the reserved, unhashed, mutable output directory.
const OutputDir = "output"

// Dependency is a single normalized dependency record. Either the job side
// (Job, Query, or QueryAll) or Repository is set, never both, matching §3's
// tagged two-shape union.
type Dependency struct {
	Job         string `yaml:"job,omitempty"`
	Repository  string `yaml:"repository,omitempty"`
	Commit      string `yaml:"commit,omitempty"`
	Branch      string `yaml:"branch,omitempty"`
	Tag         string `yaml:"tag,omitempty"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Query       string `yaml:"query,omitempty"`
	QueryAll    string `yaml:"query_all,omitempty"`
	Latest      bool   `yaml:"latest,omitempty"`
}

// IsGit reports whether d is a git dependency rather than a job
// dependency.
func (d Dependency) IsGit() bool { return d.Repository != "" }

// Manifest is the validated, in-memory form of r3.yaml.
type Manifest struct {
	Dependencies []Dependency           `yaml:"dependencies"`
	Ignore       []string               `yaml:"ignore"`
	Environment  map[string]interface{} `yaml:"environment"`
	Commands     map[string]interface{} `yaml:"commands"`
	Parameters   map[string]interface{} `yaml:"parameters"`
	Files        map[string]string      `yaml:"files,omitempty"`
	Timestamp    string                 `yaml:"timestamp,omitempty"`
}

// rawManifest mirrors Manifest's YAML shape before defaulting and
// validation, so a missing "dependencies" list doesn't need special-casing
// at every call site.
type rawManifest struct {
	Dependencies []rawDependency        `yaml:"dependencies"`
	Ignore       []string               `yaml:"ignore"`
	Environment  map[string]interface{} `yaml:"environment"`
	Commands     map[string]interface{} `yaml:"commands"`
	Parameters   map[string]interface{} `yaml:"parameters"`
	Files        map[string]string      `yaml:"files"`
	Timestamp    string                 `yaml:"timestamp"`
}

type rawDependency struct {
	Job         string `yaml:"job"`
	Repository  string `yaml:"repository"`
	Commit      string `yaml:"commit"`
	Branch      string `yaml:"branch"`
	Tag         string `yaml:"tag"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Query       string `yaml:"query"`
	QueryAll    string `yaml:"query_all"`
	Latest      bool   `yaml:"latest"`
}

// Load reads and validates the manifest at <jobRoot>/r3.yaml. A job root
// with no r3.yaml at all loads as an empty manifest -- a staging directory
// holding only payload files is a valid, dependency-free job.
func Load(jobRoot string) (*Manifest, error) {
	path := filepath.Join(jobRoot, ManifestFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, &errkind.IOError{Op: "read", Path: path, Err: err}
	}

	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &errkind.ConfigError{Path: path, Reason: err.Error()}
	}

	return validate(path, raw)
}

func validate(path string, raw rawManifest) (*Manifest, error) {
	m := &Manifest{
		Ignore:      raw.Ignore,
		Environment: raw.Environment,
		Commands:    raw.Commands,
		Parameters:  raw.Parameters,
		Files:       raw.Files,
		Timestamp:   raw.Timestamp,
	}

	for _, s := range raw.Ignore {
		if s == "" {
			return nil, &errkind.ConfigError{Path: path, Reason: "ignore patterns must not be empty strings"}
		}
	}

	for i, rd := range raw.Dependencies {
		d, err := validateDependency(path, i, rd)
		if err != nil {
			return nil, err
		}
		m.Dependencies = append(m.Dependencies, d)
	}

	return m, nil
}

func validateDependency(path string, index int, rd rawDependency) (Dependency, error) {
	hasJob := rd.Job != "" || rd.Query != "" || rd.QueryAll != ""
	hasGit := rd.Repository != ""

	if hasJob && hasGit {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "dependency may not mix job/query/query_all with repository"),
		}
	}
	if !hasJob && !hasGit {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "dependency must specify job, query, query_all, or repository"),
		}
	}
	if rd.Destination == "" {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "destination is required"),
		}
	}
	if strings.HasPrefix(rd.Destination, "/") || strings.Contains(rd.Destination, "..") {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "destination must be a relative path that does not escape the job root"),
		}
	}
	if hasGit && rd.Branch != "" && rd.Tag != "" {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "git dependency cannot specify both branch and tag"),
		}
	}
	if hasGit && rd.Commit == "" && rd.Branch == "" && rd.Tag == "" {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "git dependency needs one of commit, branch, or tag"),
		}
	}
	if rd.Latest && rd.Query == "" {
		return Dependency{}, &errkind.ConfigError{
			Path:   path,
			Reason: dependencyErr(index, "latest is only meaningful alongside query"),
		}
	}

	return Dependency{
		Job:         rd.Job,
		Repository:  rd.Repository,
		Commit:      rd.Commit,
		Branch:      rd.Branch,
		Tag:         rd.Tag,
		Source:      rd.Source, // defaults to "" (whole item), matching the zero value
		Destination: rd.Destination,
		Query:       rd.Query,
		QueryAll:    rd.QueryAll,
		Latest:      rd.Latest,
	}, nil
}

func dependencyErr(index int, reason string) string {
	return "dependencies[" + strconv.Itoa(index) + "]: " + reason
}

// Save writes m back to <jobRoot>/r3.yaml, used after the builder has
// populated Files and normalized Dependencies during a commit.
func Save(jobRoot string, m *Manifest) error {
	path := filepath.Join(jobRoot, ManifestFile)
	data, err := yaml.Marshal(m)
	if err != nil {
		return &errkind.ConfigError{Path: path, Reason: err.Error()}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errkind.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
