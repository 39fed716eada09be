package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader is prepended to data by TestSealer to make sealed output
// clearly different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("BLNENC\x00\x00")

// TestSealer is a simple, deterministic sealer for testing.
// It prepends a fixed 8-byte header when sealing and strips it when opening.
// Sealed bytes differ from plaintext while requiring no crypto or key files.
type TestSealer struct{}

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Seal(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(testHeader); err != nil {
		return nil, fmt.Errorf("writing test header: %w", err)
	}
	return nopCloser{w}, nil
}

func (s *TestSealer) Open(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
