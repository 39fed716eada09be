package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"balloon-go/internal/balloon"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Objects are sharded by the first characters of their id:
//
//	<root>/
//	  blobs/
//	    ab/cd/<id>     (object bytes, passed through the codec)
type FileSystemVault struct {
	root     string
	blobsDir string
	codec    Codec
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(root string, codec Codec) (*FileSystemVault, error) {
	if codec == nil {
		codec = identityCodec{}
	}
	blobsDir := filepath.Join(root, "blobs")
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}

	return &FileSystemVault{
		root:     root,
		blobsDir: blobsDir,
		codec:    codec,
	}, nil
}

func (v *FileSystemVault) objectPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid object id %q", id)
	}
	if len(id) < 4 {
		return filepath.Join(v.blobsDir, "_", id), nil
	}
	return filepath.Join(v.blobsDir, id[0:2], id[2:4], id), nil
}

// PutBlob stores the object using an atomic write (temp file + rename).
// The size check applies to the bytes read from r, before encoding.
func (v *FileSystemVault) PutBlob(ctx context.Context, id string, r io.Reader, size int64) error {
	destPath, err := v.objectPath(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	enc, err := v.codec.NewWriter(tmpFile)
	if err != nil {
		tmpFile.Close()
		return err
	}

	written, err := io.Copy(enc, &contextReader{ctx: ctx, r: r})
	if err != nil {
		enc.Close()
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to flush %s encoder: %w", v.codec.Name(), err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if size >= 0 && written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// OpenBlob opens the object and returns a decoding reader over it.
func (v *FileSystemVault) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	srcPath, err := v.objectPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", id, balloon.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}

	dec, err := v.codec.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &decodingReadCloser{ReadCloser: dec, file: f}, nil
}

// DeleteBlob removes the object. A missing object is not an error.
func (v *FileSystemVault) DeleteBlob(ctx context.Context, id string) error {
	path, err := v.objectPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible and writable.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.blobsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	probe, err := os.CreateTemp(v.blobsDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// decodingReadCloser closes both the decoder and the underlying file.
type decodingReadCloser struct {
	io.ReadCloser
	file *os.File
}

func (d *decodingReadCloser) Close() error {
	derr := d.ReadCloser.Close()
	ferr := d.file.Close()
	return errors.Join(derr, ferr)
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ balloon.Vault = (*FileSystemVault)(nil)
