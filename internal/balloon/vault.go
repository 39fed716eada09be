package balloon

import (
	"context"
	"io"
)

// Vault stores blob bytes under opaque identifiers. Reads and writes stream
// so large files never have to fit in memory.
type Vault interface {
	// PutBlob stores the bytes read from r under id. size is the exact
	// length of r, or -1 when the caller does not know it.
	PutBlob(ctx context.Context, id string, r io.Reader, size int64) error

	// OpenBlob returns a reader for the object. Returns an error wrapping
	// ErrBlobNotFound when the object does not exist.
	OpenBlob(ctx context.Context, id string) (io.ReadCloser, error)

	// DeleteBlob removes the object. Deleting a missing object is not an error.
	DeleteBlob(ctx context.Context, id string) error

	// ValidateSetup verifies that the vault is reachable and configured.
	ValidateSetup(ctx context.Context) error
}
