package metaindex

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/r3fs/r3/internal/errkind"
)

// YAMLIndex is the metaindex.Index backend grounded directly on
// original_source/r3/index.py: one YAML document, one entry per job id,
// rewritten in full on every mutation. Simple and human-inspectable;
// intended for repositories with up to a few thousand jobs.
type YAMLIndex struct {
	path    string
	entries map[string]yamlEntry
}

type yamlEntry struct {
	Tags         []string             `yaml:"tags"`
	Timestamp    string               `yaml:"timestamp"`
	Dependencies []yamlDependencyView `yaml:"dependencies"`
}

// yamlDependencyView is a persisted view of config.Dependency: only the
// fields Dependents needs to scan are kept, matching Index.find_dependents
// only ever consulting the "job" key of a stored dependency config.
type yamlDependencyView struct {
	Job string `yaml:"job,omitempty"`
}

// OpenYAML loads (or lazily initializes) the YAML index at path.
func OpenYAML(path string) (*YAMLIndex, error) {
	idx := &YAMLIndex{path: path, entries: map[string]yamlEntry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, &errkind.IOError{Op: "read", Path: path, Err: err}
	}

	if err := yaml.Unmarshal(data, &idx.entries); err != nil {
		return nil, &errkind.ConfigError{Path: path, Reason: err.Error()}
	}
	if idx.entries == nil {
		idx.entries = map[string]yamlEntry{}
	}
	return idx, nil
}

func (idx *YAMLIndex) Notify(entry Entry) error {
	idx.entries[entry.JobID] = toYAMLEntry(entry)
	return idx.save()
}

func (idx *YAMLIndex) Forget(jobID string) error {
	delete(idx.entries, jobID)
	return idx.save()
}

func (idx *YAMLIndex) Find(tags []string) ([]string, error) {
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}

	var matches []string
	for id, e := range idx.entries {
		if hasAllTags(e.Tags, want) {
			matches = append(matches, id)
		}
	}
	// Most recently committed first, matching original_source's
	// find(..., latest=True) ordering by datetime descending.
	sort.Slice(matches, func(i, j int) bool {
		return idx.entries[matches[i]].Timestamp > idx.entries[matches[j]].Timestamp
	})
	return matches, nil
}

func (idx *YAMLIndex) Dependents(jobID string) ([]string, error) {
	var deps []string
	for id, e := range idx.entries {
		for _, d := range e.Dependencies {
			if d.Job == jobID {
				deps = append(deps, id)
				break
			}
		}
	}
	return deps, nil
}

func (idx *YAMLIndex) Rebuild(entries []Entry) error {
	idx.entries = make(map[string]yamlEntry, len(entries))
	for _, e := range entries {
		idx.entries[e.JobID] = toYAMLEntry(e)
	}
	return idx.save()
}

func (idx *YAMLIndex) save() error {
	data, err := yaml.Marshal(idx.entries)
	if err != nil {
		return &errkind.ConfigError{Path: idx.path, Reason: err.Error()}
	}
	if err := os.WriteFile(idx.path, data, 0o644); err != nil {
		return &errkind.IOError{Op: "write", Path: idx.path, Err: err}
	}
	return nil
}

func toYAMLEntry(e Entry) yamlEntry {
	views := make([]yamlDependencyView, 0, len(e.Dependencies))
	for _, d := range e.Dependencies {
		views = append(views, yamlDependencyView{Job: d.Job})
	}
	return yamlEntry{Tags: e.Tags, Timestamp: e.Timestamp, Dependencies: views}
}

func hasAllTags(have []string, want map[string]bool) bool {
	haveSet := map[string]bool{}
	for _, t := range have {
		haveSet[t] = true
	}
	for t := range want {
		if !haveSet[t] {
			return false
		}
	}
	return true
}
