package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"balloon-go/internal/balloon"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps every object in a map, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryVault creates a new empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{objects: make(map[string][]byte)}
}

// PutBlob stores the object under id, replacing any previous object.
func (m *MemoryVault) PutBlob(ctx context.Context, id string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = data
	return nil
}

// OpenBlob returns a reader over a private copy of the object.
func (m *MemoryVault) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, balloon.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// DeleteBlob removes the object if present.
func (m *MemoryVault) DeleteBlob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Has reports whether an object is stored under id.
func (m *MemoryVault) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok
}

var _ balloon.Vault = (*MemoryVault)(nil)
