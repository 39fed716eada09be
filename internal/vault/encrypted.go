package vault

import (
	"context"
	"fmt"
	"io"

	"balloon-go/internal/balloon"
)

// Sealer encrypts and decrypts object streams.
type Sealer interface {
	Seal(w io.Writer) (io.WriteCloser, error)
	Open(r io.Reader) (io.Reader, error)
}

// EncryptedVault seals objects before handing them to the wrapped vault.
// The ciphertext length differs from the plaintext, so the inner vault is
// told the size is unknown and the plaintext length is checked here.
type EncryptedVault struct {
	inner  balloon.Vault
	sealer Sealer
}

// NewEncryptedVault wraps inner with sealer.
func NewEncryptedVault(inner balloon.Vault, sealer Sealer) *EncryptedVault {
	return &EncryptedVault{inner: inner, sealer: sealer}
}

func (v *EncryptedVault) PutBlob(ctx context.Context, id string, r io.Reader, size int64) error {
	pr, pw := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		pw.CloseWithError(v.seal(pw, r, size))
	}()

	err := v.inner.PutBlob(ctx, id, pr, -1)
	// Unblocks the sealing goroutine if the inner vault stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	return err
}

// seal copies r through the sealer into w. A nil return closes the pipe
// with EOF.
func (v *EncryptedVault) seal(w io.Writer, r io.Reader, size int64) error {
	counter := &countingReader{r: r}
	sw, err := v.sealer.Seal(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(sw, counter); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if size >= 0 && counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

func (v *EncryptedVault) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := v.inner.OpenBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	plain, err := v.sealer.Open(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("opening sealed object %s: %w", id, err)
	}
	return &sealedReadCloser{Reader: plain, closer: rc}, nil
}

func (v *EncryptedVault) DeleteBlob(ctx context.Context, id string) error {
	return v.inner.DeleteBlob(ctx, id)
}

func (v *EncryptedVault) ValidateSetup(ctx context.Context) error {
	return v.inner.ValidateSetup(ctx)
}

type sealedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s *sealedReadCloser) Close() error {
	return s.closer.Close()
}

var _ balloon.Vault = (*EncryptedVault)(nil)
