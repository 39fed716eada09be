package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry is a file or directory found by Walk.
type Entry struct {
	// AbsPath is the absolute path on disk.
	AbsPath string
	// RelPath is relative to the walk root and uses '/' separators.
	RelPath string
	IsDir   bool
	Size    int64
	Created time.Time
	Changed time.Time
}

// Open opens a file entry for reading.
func (e Entry) Open() (io.ReadCloser, error) {
	if e.IsDir {
		return nil, fmt.Errorf("cannot open directory as file: %s", e.AbsPath)
	}
	return os.Open(e.AbsPath)
}

// Walk visits the regular files and directories below root in lexical
// order, parents before children. Entries matched by ignore, by the root's
// ignore file, or by IgnoreFileName itself are skipped together with their
// subtrees. Symlinks, devices, pipes and sockets are skipped.
func Walk(root string, ignore *IgnoreMatcher, fn func(Entry) error) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absRoot)
	}

	local, err := ParseIgnoreFile(filepath.Join(absRoot, IgnoreFileName))
	if err != nil {
		return err
	}
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}
	ignore = ignore.With(append([]string{IgnoreFileName}, local...))

	return filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		if ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		entry := Entry{
			AbsPath: p,
			RelPath: filepath.ToSlash(rel),
			IsDir:   d.IsDir(),
			Changed: info.ModTime().UTC(),
			Created: createdTime(info),
		}
		if !entry.IsDir {
			entry.Size = info.Size()
		}
		return fn(entry)
	})
}
