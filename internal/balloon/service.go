package balloon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultMaxVersions   = 16
	DefaultDeltaPageSize = 500

	// maxTxAttempts bounds retries of a transaction that lost a commit race.
	maxTxAttempts = 4
	// maxDepth guards ancestor walks against corrupted parent chains.
	maxDepth = 4096
)

// Options holds the optional collaborators and limits of a Service.
type Options struct {
	// MaxVersions bounds the length of a file's history.
	MaxVersions int
	// DeltaPageSize is used when Delta is called without a limit.
	DeltaPageSize int
	Access        AccessControl
	Quota         QuotaPolicy
	Events        Publisher
	// TempFiles recognizes names that are purged instead of soft deleted.
	TempFiles NameMatcher
}

// Service implements the node tree, versioned content and delta log on top
// of its injected collaborators.
type Service struct {
	db          Database
	staging     StagingArea
	blobs       *BlobStore
	access      AccessControl
	quota       QuotaPolicy
	events      Publisher
	tempFiles   NameMatcher
	logger      Logger
	clock       Clock
	idgen       IDGenerator
	maxVersions int
	pageSize    int
}

// NewService creates a Service. Zero-valued Options fields fall back to
// OwnerAccess, Unlimited, NopPublisher and the package defaults.
func NewService(db Database, staging StagingArea, vault Vault, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	s := &Service{
		db:          db,
		staging:     staging,
		blobs:       NewBlobStore(db, vault, idgen, clock, logger),
		access:      opts.Access,
		quota:       opts.Quota,
		events:      opts.Events,
		tempFiles:   opts.TempFiles,
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		maxVersions: opts.MaxVersions,
		pageSize:    opts.DeltaPageSize,
	}
	if s.access == nil {
		s.access = OwnerAccess{}
	}
	if s.quota == nil {
		s.quota = Unlimited{}
	}
	if s.events == nil {
		s.events = NopPublisher{}
	}
	if s.maxVersions < 1 {
		s.maxVersions = DefaultMaxVersions
	}
	if s.pageSize < 1 {
		s.pageSize = DefaultDeltaPageSize
	}
	return s
}

// Blobs exposes the BlobStore backing the service.
func (s *Service) Blobs() *BlobStore { return s.blobs }

// txState collects the effects of one write transaction that must only be
// applied once it has committed.
type txState struct {
	s      *Service
	user   string
	freed  []*Blob
	delta  []*DeltaEntry
	events []Event
}

func (st *txState) logAt(n *Node, path string, deleted bool) {
	st.delta = append(st.delta, &DeltaEntry{
		NodeID:    n.ID,
		OwnerID:   n.OwnerID,
		Path:      path,
		Deleted:   deleted,
		Directory: n.IsCollection(),
		Time:      st.s.clock.Now(),
	})
}

// logLive records n as live at its current path.
func (st *txState) logLive(tx Tx, n *Node) error {
	p, err := st.s.pathOf(tx, n)
	if err != nil {
		return err
	}
	st.logAt(n, p, false)
	return nil
}

func (st *txState) emit(ev Event) {
	ev.UserID = st.user
	st.events = append(st.events, ev)
}

// release drops nodeID's reference to digest.
func (st *txState) release(tx Tx, digest, nodeID string) error {
	freed, err := st.s.blobs.detach(tx, digest, nodeID)
	if err != nil {
		return err
	}
	if freed != nil {
		st.freed = append(st.freed, freed)
	}
	return nil
}

// write runs fn in a read-write transaction, retrying commits lost to
// concurrent writers, and applies the collected effects after commit.
func (s *Service) write(ctx context.Context, op, nodeID string, p *pendingBlob, fn func(tx Tx, st *txState) error) error {
	user, _ := UserFrom(ctx)
	var (
		err error
		st  *txState
	)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		st = &txState{s: s, user: user}
		if p != nil {
			p.inserted = false
		}
		err = s.db.Update(ctx, func(tx Tx) error { return fn(tx, st) })
		if err == nil {
			break
		}
		if p != nil && errors.Is(err, errBlobVanished) {
			// err stays errBlobVanished until an attempt commits.
			if uerr := s.blobs.upload(ctx, p); uerr != nil {
				err = uerr
				break
			}
			continue
		}
		var se *Error
		if errors.As(err, &se) || !errors.Is(err, ErrRevisionConflict) {
			break
		}
		s.logger.Debug("retrying after lost commit", "op", op, "node", nodeID, "attempt", attempt+1)
	}
	s.blobs.settle(ctx, p, err == nil)
	if err != nil {
		return asServiceError(op, nodeID, err)
	}
	s.blobs.free(ctx, st.freed)
	s.appendDelta(ctx, op, st.delta)
	for _, ev := range st.events {
		s.publishAfter(ctx, ev)
	}
	return nil
}

// read runs fn in a read-only transaction.
func (s *Service) read(ctx context.Context, op, nodeID string, fn func(tx Tx) error) error {
	if err := s.db.View(ctx, fn); err != nil {
		return asServiceError(op, nodeID, err)
	}
	return nil
}

func (s *Service) user(ctx context.Context, op, nodeID string) (string, error) {
	u, ok := UserFrom(ctx)
	if !ok {
		return "", newError(CodeForbidden, op, nodeID, "no acting user")
	}
	return u, nil
}

func (s *Service) allowed(ctx context.Context, n *Node, perm Permission) bool {
	return s.access.IsAllowed(ctx, n, perm)
}

func (s *Service) mustGet(tx Tx, op, id string) (*Node, error) {
	n, err := tx.GetNode(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, notFound(op, id, "node does not exist")
	}
	return n, nil
}

func (s *Service) mustGetLive(tx Tx, op, id string) (*Node, error) {
	n, err := s.mustGet(tx, op, id)
	if err != nil {
		return nil, err
	}
	if n.IsDeleted() {
		return nil, notFound(op, id, "node is deleted")
	}
	return n, nil
}

// parentFor returns the live collection parentID, or nil for RootID.
func (s *Service) parentFor(tx Tx, op, parentID string) (*Node, error) {
	if parentID == RootID {
		return nil, nil
	}
	p, err := tx.GetNode(parentID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.IsDeleted() {
		return nil, notFound(op, parentID, "parent does not exist")
	}
	if !p.IsCollection() {
		return nil, conflict(op, parentID, ReasonKindMismatch, "parent is not a collection")
	}
	return p, nil
}

// targetFor is parentFor for a collection that is about to receive a child.
// Readonly collections take no new children.
func (s *Service) targetFor(tx Tx, op, parentID string) (*Node, error) {
	p, err := s.parentFor(tx, op, parentID)
	if err != nil || p == nil {
		return p, err
	}
	if p.Readonly {
		return nil, conflict(op, parentID, ReasonReadonly, "collection is readonly")
	}
	return p, nil
}

// ownerUnder is the owner of nodes created below parent.
func ownerUnder(parent *Node, user string) string {
	if parent == nil {
		return user
	}
	return parent.OwnerID
}

func parentIDOf(parent *Node) string {
	if parent == nil {
		return RootID
	}
	return parent.ID
}

// takenIn returns a predicate reporting live names under parent.
func takenIn(tx Tx, ownerID, parentID string) func(string) (bool, error) {
	return func(name string) (bool, error) {
		c, err := tx.FindChild(ownerID, parentID, name)
		return c != nil, err
	}
}

// pathOf materializes the path of n from its owner's root.
func (s *Service) pathOf(tx Tx, n *Node) (string, error) {
	parts := []string{n.Name}
	parentID := n.ParentID
	for depth := 0; parentID != RootID; depth++ {
		if depth >= maxDepth {
			return "", fmt.Errorf("node %s: ancestry deeper than %d", n.ID, maxDepth)
		}
		p, err := tx.GetNode(parentID)
		if err != nil {
			return "", err
		}
		if p == nil {
			return "", fmt.Errorf("node %s: missing ancestor %s", n.ID, parentID)
		}
		parts = append(parts, p.Name)
		parentID = p.ParentID
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/"), nil
}

// isDescendant reports whether id is ancestorID or lies below it.
func (s *Service) isDescendant(tx Tx, id, ancestorID string) (bool, error) {
	for depth := 0; id != RootID; depth++ {
		if id == ancestorID {
			return true, nil
		}
		if depth >= maxDepth {
			return false, fmt.Errorf("ancestry of %s deeper than %d", id, maxDepth)
		}
		n, err := tx.GetNode(id)
		if err != nil {
			return false, err
		}
		if n == nil {
			return false, nil
		}
		id = n.ParentID
	}
	return false, nil
}
