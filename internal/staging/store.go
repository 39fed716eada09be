package staging

import "io"

// spoolStore holds the bytes of uploads while they are staged. Entries are
// addressed by a unique spool id, so concurrent uploads never share state.
// Implementations must be safe for concurrent use.
type spoolStore interface {
	// Create returns a writer for a new entry. The entry becomes readable
	// once the writer is closed.
	Create(id string) (io.WriteCloser, error)

	// Open returns a reader for a closed entry.
	Open(id string) (io.ReadCloser, error)

	// Remove deletes an entry (best-effort).
	Remove(id string)
}
