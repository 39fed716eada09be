package staging

import (
	"context"
	"fmt"
	"io"
	"sync"

	"balloon-go/internal/balloon"
)

const chunkSize = 64 * 1024

// Limits bounds what a staging area accepts.
type Limits struct {
	// MaxSize is the total number of bytes that may be spooled at once.
	MaxSize int64
	// MaxUploadSize is the largest single upload. 0 means MaxSize.
	MaxUploadSize int64
}

type idGenerator interface {
	New() string
}

// StagingArea implements balloon.StagingArea on top of a pluggable
// spoolStore. It hashes uploads while spooling them and enforces Limits.
type StagingArea struct {
	store  spoolStore
	hasher Hasher
	idgen  idGenerator
	limits Limits

	mu   sync.Mutex
	used int64
}

var _ balloon.StagingArea = (*StagingArea)(nil)

func newStagingArea(store spoolStore, hasher Hasher, idgen idGenerator, limits Limits) *StagingArea {
	if limits.MaxUploadSize <= 0 || limits.MaxUploadSize > limits.MaxSize {
		limits.MaxUploadSize = limits.MaxSize
	}
	return &StagingArea{store: store, hasher: hasher, idgen: idgen, limits: limits}
}

// Stage spools r, computing its digest. On any failure, including ctx being
// cancelled mid-stream, the partial spool is removed before returning.
func (s *StagingArea) Stage(ctx context.Context, r io.Reader) (*balloon.StagedContent, error) {
	id := s.idgen.New()
	w, err := s.store.Create(id)
	if err != nil {
		return nil, err
	}

	h := s.hasher.New()
	size, err := s.spool(ctx, io.MultiWriter(w, h), r)
	closeErr := w.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.store.Remove(id)
		s.release(size)
		return nil, err
	}

	digest := s.hasher.Format(h.Sum(nil))
	return balloon.NewStagedContent(digest, size,
		func() (io.ReadCloser, error) { return s.store.Open(id) },
		func() error {
			s.store.Remove(id)
			s.release(size)
			return nil
		},
	), nil
}

// spool copies r to w in chunks, reserving capacity before each write.
// It returns the number of bytes reserved, which equals the bytes written.
func (s *StagingArea) spool(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if written+int64(n) > s.limits.MaxUploadSize {
				return written, fmt.Errorf("%w: limit is %d bytes", balloon.ErrUploadTooLarge, s.limits.MaxUploadSize)
			}
			if err := s.reserve(int64(n)); err != nil {
				return written, err
			}
			written += int64(n)
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("writing spool: %w", err)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("reading upload: %w", rerr)
		}
	}
}

func (s *StagingArea) reserve(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used+n > s.limits.MaxSize {
		return fmt.Errorf("%w: would exceed max size of %d bytes", balloon.ErrStagingFull, s.limits.MaxSize)
	}
	s.used += n
	return nil
}

func (s *StagingArea) release(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= n
}

// Size returns the number of bytes currently spooled.
func (s *StagingArea) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
