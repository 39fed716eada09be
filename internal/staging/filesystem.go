package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// filesystemStore spools uploads into files below a directory:
//
//	<staging_dir>/
//	  spool/
//	    <spool_id>          (complete upload)
//	    <spool_id>.partial  (upload in progress)
type filesystemStore struct {
	spoolDir string
}

func newFilesystemStore(stagingDir string) (*filesystemStore, error) {
	spoolDir := filepath.Join(stagingDir, "spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	// Partial files left by a crash are never referenced again.
	leftovers, _ := filepath.Glob(filepath.Join(spoolDir, "*.partial"))
	for _, p := range leftovers {
		os.Remove(p)
	}
	return &filesystemStore{spoolDir: spoolDir}, nil
}

type partialFile struct {
	*os.File
	final string
}

// Close syncs the partial file and renames it into place.
func (p *partialFile) Close() error {
	if err := p.File.Sync(); err != nil {
		p.File.Close()
		return fmt.Errorf("syncing spool file: %w", err)
	}
	if err := p.File.Close(); err != nil {
		return fmt.Errorf("closing spool file: %w", err)
	}
	if err := os.Rename(p.File.Name(), p.final); err != nil {
		return fmt.Errorf("renaming spool file: %w", err)
	}
	return nil
}

func (f *filesystemStore) path(id string) string {
	return filepath.Join(f.spoolDir, id)
}

func (f *filesystemStore) Create(id string) (io.WriteCloser, error) {
	final := f.path(id)
	file, err := os.OpenFile(final+".partial", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return &partialFile{File: file, final: final}, nil
}

func (f *filesystemStore) Open(id string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(id))
	if err != nil {
		return nil, fmt.Errorf("opening spool file: %w", err)
	}
	return file, nil
}

func (f *filesystemStore) Remove(id string) {
	os.Remove(f.path(id))
	os.Remove(f.path(id) + ".partial")
}

// NewFileSystemStagingArea creates a staging area that spools uploads to disk.
func NewFileSystemStagingArea(stagingDir string, hasher Hasher, idgen idGenerator, limits Limits) (*StagingArea, error) {
	store, err := newFilesystemStore(stagingDir)
	if err != nil {
		return nil, err
	}
	return newStagingArea(store, hasher, idgen, limits), nil
}
