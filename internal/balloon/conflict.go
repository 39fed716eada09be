package balloon

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// ConflictMode decides what happens when a copy or move target name is taken.
type ConflictMode int

const (
	// ConflictNoAction fails the operation.
	ConflictNoAction ConflictMode = iota
	// ConflictRename derives a free name.
	ConflictRename
	// ConflictMerge overwrites a same-kind node in place.
	ConflictMerge
)

func (m ConflictMode) String() string {
	switch m {
	case ConflictNoAction:
		return "no-action"
	case ConflictRename:
		return "rename"
	case ConflictMerge:
		return "merge"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseConflictMode accepts the names produced by String.
func ParseConflictMode(s string) (ConflictMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no-action", "noaction", "none":
		return ConflictNoAction, nil
	case "rename":
		return ConflictRename, nil
	case "merge":
		return ConflictMerge, nil
	}
	return 0, invalid("parse conflict mode", "", "unknown conflict mode %q", s)
}

// errNameTaken is returned by Resolve under ConflictNoAction.
var errNameTaken = errors.New("name already taken")

// maxRenameAttempts bounds the search for a free derived name.
const maxRenameAttempts = 10000

// Resolution is the outcome of Resolve.
type Resolution struct {
	Name  string
	Merge bool
}

// Resolve decides how to proceed when placing name under a parent. exists
// reports whether a live child named name is present; taken is consulted for
// derived names under ConflictRename.
func Resolve(exists bool, name string, mode ConflictMode, taken func(string) (bool, error)) (Resolution, error) {
	if !exists {
		return Resolution{Name: name}, nil
	}
	switch mode {
	case ConflictMerge:
		return Resolution{Name: name, Merge: true}, nil
	case ConflictRename:
		n, err := UniqueName(name, taken)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Name: n}, nil
	default:
		return Resolution{}, errNameTaken
	}
}

// UniqueName returns the first of "base (1).ext", "base (2).ext", ... that
// taken reports free. base is shortened so candidates stay within the name
// length limit.
func UniqueName(name string, taken func(string) (bool, error)) (string, error) {
	base, ext := splitExt(name)
	for i := 1; i <= maxRenameAttempts; i++ {
		candidate := fitName(base, fmt.Sprintf(" (%d)", i), ext)
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name derived from %q", name)
}

// fitName joins base, suffix and ext within maxNameLength. When ext leaves
// no room for base, the extension is cut as part of the base instead.
func fitName(base, suffix, ext string) string {
	if len(base)+len(suffix)+len(ext) <= maxNameLength {
		return base + suffix + ext
	}
	if room := maxNameLength - len(suffix) - len(ext); room > 0 {
		return truncate(base, room) + suffix + ext
	}
	return truncate(base+ext, maxNameLength-len(suffix)) + suffix
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
