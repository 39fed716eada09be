package balloon

import (
	"context"
	"io"
	"sync"
)

// StagingArea spools uploads before they are committed to the BlobStore.
// Staging computes the digest and size of the content so deduplication can
// be decided before any blob entry is touched.
type StagingArea interface {
	// Stage reads r to EOF. It returns an error wrapping ErrUploadTooLarge or
	// ErrStagingFull when limits are exceeded, or ctx.Err() when cancelled;
	// in every failure case the partial spool is already discarded.
	Stage(ctx context.Context, r io.Reader) (*StagedContent, error)
}

// StagedContent is a fully received upload.
type StagedContent struct {
	Digest string
	Size   int64

	open    func() (io.ReadCloser, error)
	release func() error
	once    sync.Once
	err     error
}

// NewStagedContent is used by StagingArea implementations.
func NewStagedContent(digest string, size int64, open func() (io.ReadCloser, error), release func() error) *StagedContent {
	return &StagedContent{Digest: digest, Size: size, open: open, release: release}
}

// Open returns a fresh reader over the staged bytes.
func (c *StagedContent) Open() (io.ReadCloser, error) { return c.open() }

// Release discards the spool. It is safe to call more than once.
func (c *StagedContent) Release() error {
	c.once.Do(func() {
		if c.release != nil {
			c.err = c.release()
		}
	})
	return c.err
}
