package staging

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// memoryStore keeps spooled uploads in memory. Useful for tests and small
// deployments.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string][]byte)}
}

type memoryWriter struct {
	store *memoryStore
	id    string
	buf   bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memoryWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.entries[w.id] = w.buf.Bytes()
	return nil
}

func (m *memoryStore) Create(id string) (io.WriteCloser, error) {
	return &memoryWriter{store: m, id: id}, nil
}

func (m *memoryStore) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("spool entry not found: %s", id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

func (m *memoryStore) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// NewMemoryStagingArea creates a staging area that spools uploads in memory.
func NewMemoryStagingArea(hasher Hasher, idgen idGenerator, limits Limits) *StagingArea {
	return newStagingArea(newMemoryStore(), hasher, idgen, limits)
}
