package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// Digest algorithm names accepted in configuration.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher produces content digests of the form "<algorithm>:<hex>".
type Hasher struct {
	name string
	new  func() hash.Hash
}

// NewHasher returns the Hasher for algorithm. An empty name selects SHA-256.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case "", SHA256:
		return Hasher{name: SHA256, new: sha256.New}, nil
	case BLAKE3:
		return Hasher{name: BLAKE3, new: func() hash.Hash { return blake3.New() }}, nil
	default:
		return Hasher{}, fmt.Errorf("unknown digest algorithm: %s", algorithm)
	}
}

func (h Hasher) Name() string { return h.name }

// New returns a fresh hash state.
func (h Hasher) New() hash.Hash { return h.new() }

// Format renders a finished hash state as a digest string.
func (h Hasher) Format(sum []byte) string {
	return h.name + ":" + hex.EncodeToString(sum)
}

// Sum returns the digest of data.
func (h Hasher) Sum(data []byte) string {
	st := h.new()
	st.Write(data)
	return h.Format(st.Sum(nil))
}
