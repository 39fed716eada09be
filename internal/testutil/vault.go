package testutil

import (
	"context"
	"io"
	"sync"

	"balloon-go/internal/balloon"
	"balloon-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault()
}

// FaultyVault wraps a Vault, counts calls and optionally fails them.
type FaultyVault struct {
	balloon.Vault

	mu        sync.Mutex
	puts      int
	deletes   int
	failPuts  error
	failDels  error
	failOpens error
}

func NewFaultyVault(v balloon.Vault) *FaultyVault {
	return &FaultyVault{Vault: v}
}

// FailPuts makes every PutBlob return err. nil restores normal behavior.
func (f *FaultyVault) FailPuts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts = err
}

// FailDeletes makes every DeleteBlob return err.
func (f *FaultyVault) FailDeletes(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDels = err
}

// FailOpens makes every OpenBlob return err.
func (f *FaultyVault) FailOpens(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOpens = err
}

// Puts returns the number of successful PutBlob calls.
func (f *FaultyVault) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// Deletes returns the number of DeleteBlob calls.
func (f *FaultyVault) Deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes
}

func (f *FaultyVault) PutBlob(ctx context.Context, id string, r io.Reader, size int64) error {
	f.mu.Lock()
	err := f.failPuts
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.Vault.PutBlob(ctx, id, r, size); err != nil {
		return err
	}
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()
	return nil
}

func (f *FaultyVault) OpenBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	err := f.failOpens
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Vault.OpenBlob(ctx, id)
}

func (f *FaultyVault) DeleteBlob(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deletes++
	err := f.failDels
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Vault.DeleteBlob(ctx, id)
}
