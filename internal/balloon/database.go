package balloon

import "context"

// Database is the transactional persistence layer for nodes, version
// records, blob entries and the delta log.
type Database interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn in a read-write transaction and commits when fn returns
	// nil. A commit that loses against a concurrent writer returns an error
	// wrapping ErrRevisionConflict.
	Update(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the set of record operations available inside a transaction.
// Getters return nil, nil when the record does not exist.
type Tx interface {
	GetNode(id string) (*Node, error)
	// FindChild returns the live child named name. ownerID scopes the lookup
	// when parentID is RootID.
	FindChild(ownerID, parentID, name string) (*Node, error)
	// ListChildren returns children ordered by name.
	ListChildren(ownerID, parentID string, includeDeleted bool) ([]*Node, error)
	// InsertNode stores a new node and sets its Revision to 1.
	InsertNode(n *Node) error
	// UpdateNode stores n if the stored revision equals n.Revision and
	// increments n.Revision. Returns ErrRevisionConflict otherwise.
	UpdateNode(n *Node) error
	DeleteNode(id string) error

	// ListVersions returns the node's version records, oldest first.
	ListVersions(nodeID string) ([]*VersionRecord, error)
	InsertVersion(nodeID string, rec *VersionRecord) error
	DeleteVersion(nodeID string, version int) error
	DeleteVersions(nodeID string) error

	GetBlob(digest string) (*Blob, error)
	// InsertBlob creates an entry and sets its Revision to 1. Returns
	// ErrRevisionConflict if the digest already exists.
	InsertBlob(b *Blob) error
	// UpdateBlob and DeleteBlob are conditional on b.Revision.
	UpdateBlob(b *Blob) error
	DeleteBlob(b *Blob) error

	// AppendDelta assigns the next cursor to e and stores it.
	AppendDelta(e *DeltaEntry) error
	// ListDelta returns up to limit entries of ownerID with a cursor greater
	// than after, in ascending cursor order.
	ListDelta(ownerID string, after int64, limit int) ([]*DeltaEntry, error)
	// LatestDelta returns the highest cursor recorded for ownerID, or 0.
	LatestDelta(ownerID string) (int64, error)
}
