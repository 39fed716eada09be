package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file read by Walk.
const IgnoreFileName = ".balloonignore"

// DefaultTempPatterns are the names editors and desktop environments use for
// scratch files. Files with these names are purged on delete instead of
// being kept in the trash.
var DefaultTempPatterns = []string{
	"~$*",
	".~lock.*#",
	"*.swp",
	"*.swx",
	"*~",
	"*.tmp",
	".DS_Store",
	"._*",
	"Thumbs.db",
	"desktop.ini",
	".goutputstream-*",
}

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// IgnoreMatcher checks names or relative paths against a set of glob patterns.
// Patterns without '/' match against the basename only.
// Patterns with '/' match against the full relative path.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// NewTempFileMatcher returns a matcher for DefaultTempPatterns followed by
// extra. It is used as the service's temporary file recognizer.
func NewTempFileMatcher(extra []string) *IgnoreMatcher {
	patterns := make([]string, 0, len(DefaultTempPatterns)+len(extra))
	patterns = append(patterns, DefaultTempPatterns...)
	patterns = append(patterns, extra...)
	return NewIgnoreMatcher(patterns)
}

// Match reports whether the given name or relative path matches.
// relativePath should use filepath separators.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	// Normalize to forward slashes for consistent matching.
	normalized := filepath.ToSlash(relativePath)
	basename := filepath.Base(relativePath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// With returns a matcher holding the patterns of m followed by rawPatterns.
func (m *IgnoreMatcher) With(rawPatterns []string) *IgnoreMatcher {
	extra := NewIgnoreMatcher(rawPatterns)
	combined := make([]ignorePattern, 0, len(m.patterns)+len(extra.patterns))
	combined = append(combined, m.patterns...)
	combined = append(combined, extra.patterns...)
	return &IgnoreMatcher{patterns: combined}
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
