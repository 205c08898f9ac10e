package internal

import (
	"bufio"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const IgnoreFilename = ".docqaignore"

// IgnoreMatcher applies gitignore-style patterns from the corpus root.
// Paths are slash-separated and relative to the corpus root.
type IgnoreMatcher struct {
	patterns []gitignore.Pattern
}

func NewIgnoreMatcher(fs billy.Filesystem) (*IgnoreMatcher, error) {
	patterns, err := parseIgnoreFile(fs, IgnoreFilename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return &IgnoreMatcher{patterns: patterns}, nil
}

func NewIgnoreMatcherFromPatterns(lines ...string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range lines {
		if p, ok := parsePatternLine(line); ok {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

func (m *IgnoreMatcher) Match(rel string) bool {
	return m.match(rel, false)
}

func (m *IgnoreMatcher) MatchDir(rel string) bool {
	return m.match(rel, true)
}

// match honours negation: the last pattern that matches decides.
func (m *IgnoreMatcher) match(rel string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	parts := strings.Split(path.Clean(rel), "/")

	excluded := false
	for _, p := range m.patterns {
		switch p.Match(parts, isDir) {
		case gitignore.Exclude:
			excluded = true
		case gitignore.Include:
			excluded = false
		}
	}
	return excluded
}

func parseIgnoreFile(fs billy.Filesystem, name string) ([]gitignore.Pattern, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		if p, ok := parsePatternLine(scanner.Text()); ok {
			patterns = append(patterns, p)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}

func parsePatternLine(line string) (gitignore.Pattern, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, false
	}
	return gitignore.ParsePattern(line, nil), true
}
