/*
	Package ignore implements the subset of gitignore pattern matching that
	R3 uses to exclude paths from a staged job before hashing: anchored and
	unanchored globs, directory-only patterns, and negation.

	No third-party gitignore matcher appears anywhere in the example
	corpus this package was grounded on -- see DESIGN.md for why this one
	is hand-rolled against path/filepath and strings alone rather than
	pulled from a library.
*/
package ignore

import (
	"path/filepath"
	"strings"
)

// Pattern is a single compiled ignore rule.
type Pattern struct {
	raw       string
	negate    bool
	anchored  bool // pattern contains a '/' before the final segment, or a leading '/'
	dirOnly   bool // pattern ends in '/'
	segments  []string
}

// Matcher holds an ordered set of patterns. Later patterns override earlier
// ones, matching git's own precedence rule.
type Matcher struct {
	patterns []Pattern
}

// Compile parses lines as gitignore-style patterns. Blank lines and lines
// starting with '#' are skipped, matching git's own file format even though
// R3 patterns are usually supplied as a YAML list rather than a file.
func Compile(lines []string) *Matcher {
	m := &Matcher{}
	for _, line := range lines {
		if p, ok := compileLine(line); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

func compileLine(line string) (Pattern, bool) {
	trimmed := strings.TrimRight(line, " ")
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Pattern{}, false
	}

	p := Pattern{raw: trimmed}
	if strings.HasPrefix(trimmed, "!") {
		p.negate = true
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "\\!") || strings.HasPrefix(trimmed, "\\#") {
		trimmed = trimmed[1:]
	}
	if strings.HasSuffix(trimmed, "/") {
		p.dirOnly = true
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	if strings.HasPrefix(trimmed, "/") {
		p.anchored = true
		trimmed = strings.TrimPrefix(trimmed, "/")
	}
	if strings.Contains(trimmed, "/") {
		p.anchored = true
	}
	p.segments = strings.Split(trimmed, "/")
	return p, true
}

// Match reports whether path (slash-separated, relative to the staging
// root, no leading slash) is excluded. isDir tells the matcher whether path
// names a directory, since directory-only patterns never match plain
// files. The last matching pattern wins; a path matched by no pattern is
// not ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	ignored := false
	for _, p := range m.patterns {
		if p.matches(path, isDir) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (p Pattern) matches(path string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}

	if p.anchored {
		return matchSegments(p.segments, strings.Split(path, "/"))
	}

	// Unanchored: the pattern may match starting at any path segment.
	parts := strings.Split(path, "/")
	for i := range parts {
		if matchSegments(p.segments, parts[i:]) {
			return true
		}
	}
	return false
}

// matchSegments matches a pattern's segments against a path's segments
// left-to-right. A "**" segment matches zero or more path segments.
func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		if len(pat) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(pat[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pat[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}
