package vault

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec transforms object bytes on their way to and from disk.
type Codec interface {
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// NewCodec returns the codec registered under name. An empty name selects
// the identity codec.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return identityCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression: %q", name)
	}
}

type identityCodec struct{}

func (identityCodec) Name() string { return "none" }

func (identityCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (identityCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return enc, nil
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
