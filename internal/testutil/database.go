package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"balloon-go/internal/balloon"
	"balloon-go/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// ErrInjected is returned by FaultyDatabase and FaultyVault when a fault fires.
var ErrInjected = errors.New("injected fault")

// FaultyDatabase wraps a Database and fails selected Update calls.
type FaultyDatabase struct {
	balloon.Database

	mu      sync.Mutex
	updates int
	// failAt holds 1-based Update call numbers that fail, mapped to the error.
	failAt map[int]error
	// failWhen fails every Update whose transaction performs a matching write.
	failWhen func(write string) error
	// before runs ahead of every Update with its 1-based call number.
	before func(n int)
}

func NewFaultyDatabase(db balloon.Database) *FaultyDatabase {
	return &FaultyDatabase{Database: db, failAt: make(map[int]error)}
}

// FailUpdate makes the n-th Update call from now on return err without
// committing. err defaults to ErrInjected.
func (f *FaultyDatabase) FailUpdate(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.failAt[f.updates+n] = err
}

// FailWrites makes every transaction that calls the named Tx method fail
// at commit with the error returned by fn. A nil result lets it pass.
func (f *FaultyDatabase) FailWrites(fn func(write string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWhen = fn
}

// BeforeUpdate registers fn to run ahead of each Update call, outside any
// transaction, with the call's 1-based number. Writes fn makes through the
// wrapped Database land between two attempts of the caller.
func (f *FaultyDatabase) BeforeUpdate(fn func(n int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

// Updates returns the number of Update calls seen.
func (f *FaultyDatabase) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *FaultyDatabase) Update(ctx context.Context, fn func(tx balloon.Tx) error) error {
	f.mu.Lock()
	f.updates++
	injected := f.failAt[f.updates]
	delete(f.failAt, f.updates)
	failWhen := f.failWhen
	before, n := f.before, f.updates
	f.mu.Unlock()

	if before != nil {
		before(n)
	}

	return f.Database.Update(ctx, func(tx balloon.Tx) error {
		rec := &recordingTx{Tx: tx}
		if err := fn(rec); err != nil {
			return err
		}
		if injected != nil {
			return injected
		}
		if failWhen != nil {
			for _, w := range rec.writes {
				if err := failWhen(w); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// recordingTx notes the write methods called on it.
type recordingTx struct {
	balloon.Tx
	writes []string
}

func (r *recordingTx) note(w string) { r.writes = append(r.writes, w) }

func (r *recordingTx) InsertNode(n *balloon.Node) error {
	r.note("InsertNode")
	return r.Tx.InsertNode(n)
}

func (r *recordingTx) UpdateNode(n *balloon.Node) error {
	r.note("UpdateNode")
	return r.Tx.UpdateNode(n)
}

func (r *recordingTx) DeleteNode(id string) error {
	r.note("DeleteNode")
	return r.Tx.DeleteNode(id)
}

func (r *recordingTx) InsertBlob(b *balloon.Blob) error {
	r.note("InsertBlob")
	return r.Tx.InsertBlob(b)
}

func (r *recordingTx) UpdateBlob(b *balloon.Blob) error {
	r.note("UpdateBlob")
	return r.Tx.UpdateBlob(b)
}

func (r *recordingTx) DeleteBlob(b *balloon.Blob) error {
	r.note("DeleteBlob")
	return r.Tx.DeleteBlob(b)
}

func (r *recordingTx) AppendDelta(e *balloon.DeltaEntry) error {
	r.note("AppendDelta")
	return r.Tx.AppendDelta(e)
}
