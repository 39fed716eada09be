package testutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the "sha256:<hex>" digest of data, matching the format the
// default staging hasher produces.
func Digest(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
