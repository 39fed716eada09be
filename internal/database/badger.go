package database

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"balloon-go/internal/balloon"
	"balloon-go/internal/codec"
)

// BadgerDatabase implements the Database interface on top of BadgerDB.
//
// Key layout:
//
//	n:<id>                      node record
//	c:<parent>\x00<name>        id of the live child called name
//	p:<parent>\x00<id>          membership of every child, live or deleted
//	h:<node>\x00<version>       version record, version as big-endian uint64
//	b:<digest>                  blob entry
//	d:<owner>\x00<cursor>       delta entry, cursor as big-endian uint64
//	s:delta                     last assigned delta cursor
//
// <parent> is the parent id, or "~" followed by the owner id for root nodes.
// Records are CBOR encoded. Badger transactions are serializable, so a
// transaction that read a key another transaction committed in the meantime
// fails with badger.ErrConflict, reported as ErrRevisionConflict.
type BadgerDatabase struct {
	db *badger.DB
}

// NewBadgerDatabase opens a badger database in dir, or a purely in-memory
// one when dir is empty.
func NewBadgerDatabase(dir string, logger balloon.Logger) (*BadgerDatabase, error) {
	if logger == nil {
		logger = balloon.NewNopLogger()
	}
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithCompression(options.None)
	opts = opts.WithLogger(badgerLogger{logger})
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %q: %w", dir, err)
	}
	return &BadgerDatabase{db: db}, nil
}

func (b *BadgerDatabase) View(ctx context.Context, fn func(tx balloon.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *BadgerDatabase) Update(ctx context.Context, fn func(tx balloon.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("committing transaction: %w: %v", balloon.ErrRevisionConflict, err)
	}
	return err
}

// RunGC reclaims value log space. It returns nil when nothing was rewritten.
func (b *BadgerDatabase) RunGC() error {
	if b.db.Opts().InMemory {
		return nil
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (b *BadgerDatabase) Close() error {
	return b.db.Close()
}

const sep = "\x00"

var deltaCounterKey = []byte("s:delta")

func parentKey(ownerID, parentID string) string {
	if parentID == balloon.RootID {
		return "~" + ownerID
	}
	return parentID
}

func keyNode(id string) []byte { return []byte("n:" + id) }

func keyChildName(ownerID, parentID, name string) []byte {
	return []byte("c:" + parentKey(ownerID, parentID) + sep + name)
}

func keyMemberPrefix(ownerID, parentID string) []byte {
	return []byte("p:" + parentKey(ownerID, parentID) + sep)
}

func keyMember(ownerID, parentID, id string) []byte {
	return append(keyMemberPrefix(ownerID, parentID), id...)
}

func keyVersionPrefix(nodeID string) []byte { return []byte("h:" + nodeID + sep) }

func keyVersion(nodeID string, version int) []byte {
	return binary.BigEndian.AppendUint64(keyVersionPrefix(nodeID), uint64(version))
}

func keyBlob(digest string) []byte { return []byte("b:" + digest) }

func keyDeltaPrefix(ownerID string) []byte { return []byte("d:" + ownerID + sep) }

func keyDelta(ownerID string, cursor int64) []byte {
	return binary.BigEndian.AppendUint64(keyDeltaPrefix(ownerID), uint64(cursor))
}

type badgerTx struct {
	txn *badger.Txn
}

// get decodes the value under key into v. It reports false when the key does
// not exist.
func (t *badgerTx) get(key []byte, v any) (bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return codec.Unmarshal(val, v)
	})
	return err == nil, err
}

func (t *badgerTx) put(key []byte, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return t.txn.Set(key, data)
}

func (t *badgerTx) exists(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn for every key with prefix, in key order.
func (t *badgerTx) scan(prefix []byte, fn func(item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) GetNode(id string) (*balloon.Node, error) {
	var n balloon.Node
	ok, err := t.get(keyNode(id), &n)
	if err != nil {
		return nil, fmt.Errorf("getting node %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (t *badgerTx) FindChild(ownerID, parentID, name string) (*balloon.Node, error) {
	item, err := t.txn.Get(keyChildName(ownerID, parentID, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding child %q: %w", name, err)
	}
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return t.GetNode(string(id))
}

func (t *badgerTx) ListChildren(ownerID, parentID string, includeDeleted bool) ([]*balloon.Node, error) {
	prefix := keyMemberPrefix(ownerID, parentID)
	var ids []string
	err := t.scan(prefix, func(item *badger.Item) error {
		ids = append(ids, string(item.Key()[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}

	nodes := make([]*balloon.Node, 0, len(ids))
	for _, id := range ids {
		n, err := t.GetNode(id)
		if err != nil {
			return nil, err
		}
		if n == nil || (!includeDeleted && n.IsDeleted()) {
			continue
		}
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *balloon.Node) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return nodes, nil
}

// claimName points the live name index at n, failing when another node
// holds the name.
func (t *badgerTx) claimName(n *balloon.Node) error {
	key := keyChildName(n.OwnerID, n.ParentID, n.Name)
	item, err := t.txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		holder, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(holder) != n.ID {
			return fmt.Errorf("name %q taken by %s: %w", n.Name, holder, balloon.ErrRevisionConflict)
		}
	}
	return t.txn.Set(key, []byte(n.ID))
}

func (t *badgerTx) releaseName(n *balloon.Node) error {
	key := keyChildName(n.OwnerID, n.ParentID, n.Name)
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	holder, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(holder) != n.ID {
		return nil
	}
	return t.txn.Delete(key)
}

func (t *badgerTx) InsertNode(n *balloon.Node) error {
	ok, err := t.exists(keyNode(n.ID))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("node %s exists: %w", n.ID, balloon.ErrRevisionConflict)
	}
	if !n.IsDeleted() {
		if err := t.claimName(n); err != nil {
			return err
		}
	}
	if err := t.txn.Set(keyMember(n.OwnerID, n.ParentID, n.ID), nil); err != nil {
		return err
	}
	n.Revision = 1
	if err := t.put(keyNode(n.ID), n); err != nil {
		n.Revision = 0
		return err
	}
	return nil
}

func (t *badgerTx) UpdateNode(n *balloon.Node) error {
	old, err := t.GetNode(n.ID)
	if err != nil {
		return err
	}
	if old == nil || old.Revision != n.Revision {
		return fmt.Errorf("node %s: %w", n.ID, balloon.ErrRevisionConflict)
	}

	if !old.IsDeleted() {
		if err := t.releaseName(old); err != nil {
			return err
		}
	}
	if !n.IsDeleted() {
		if err := t.claimName(n); err != nil {
			return err
		}
	}
	if old.ParentID != n.ParentID || old.OwnerID != n.OwnerID {
		if err := t.txn.Delete(keyMember(old.OwnerID, old.ParentID, old.ID)); err != nil {
			return err
		}
		if err := t.txn.Set(keyMember(n.OwnerID, n.ParentID, n.ID), nil); err != nil {
			return err
		}
	}

	n.Revision++
	if err := t.put(keyNode(n.ID), n); err != nil {
		n.Revision--
		return err
	}
	return nil
}

func (t *badgerTx) DeleteNode(id string) error {
	n, err := t.GetNode(id)
	if err != nil || n == nil {
		return err
	}
	if err := t.releaseName(n); err != nil {
		return err
	}
	if err := t.txn.Delete(keyMember(n.OwnerID, n.ParentID, n.ID)); err != nil {
		return err
	}
	return t.txn.Delete(keyNode(id))
}

func (t *badgerTx) ListVersions(nodeID string) ([]*balloon.VersionRecord, error) {
	var records []*balloon.VersionRecord
	err := t.scan(keyVersionPrefix(nodeID), func(item *badger.Item) error {
		var rec balloon.VersionRecord
		if err := item.Value(func(val []byte) error { return codec.Unmarshal(val, &rec) }); err != nil {
			return err
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", nodeID, err)
	}
	return records, nil
}

func (t *badgerTx) InsertVersion(nodeID string, rec *balloon.VersionRecord) error {
	key := keyVersion(nodeID, rec.Version)
	ok, err := t.exists(key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("version %d of %s exists: %w", rec.Version, nodeID, balloon.ErrRevisionConflict)
	}
	return t.put(key, rec)
}

func (t *badgerTx) DeleteVersion(nodeID string, version int) error {
	return t.txn.Delete(keyVersion(nodeID, version))
}

func (t *badgerTx) DeleteVersions(nodeID string) error {
	var keys [][]byte
	err := t.scan(keyVersionPrefix(nodeID), func(item *badger.Item) error {
		keys = append(keys, item.KeyCopy(nil))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) GetBlob(digest string) (*balloon.Blob, error) {
	var b balloon.Blob
	ok, err := t.get(keyBlob(digest), &b)
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", digest, err)
	}
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *badgerTx) InsertBlob(b *balloon.Blob) error {
	ok, err := t.exists(keyBlob(b.Digest))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("blob %s exists: %w", b.Digest, balloon.ErrRevisionConflict)
	}
	b.Revision = 1
	return t.put(keyBlob(b.Digest), b)
}

func (t *badgerTx) checkBlobRevision(b *balloon.Blob) error {
	stored, err := t.GetBlob(b.Digest)
	if err != nil {
		return err
	}
	if stored == nil || stored.Revision != b.Revision {
		return fmt.Errorf("blob %s: %w", b.Digest, balloon.ErrRevisionConflict)
	}
	return nil
}

func (t *badgerTx) UpdateBlob(b *balloon.Blob) error {
	if err := t.checkBlobRevision(b); err != nil {
		return err
	}
	b.Revision++
	if err := t.put(keyBlob(b.Digest), b); err != nil {
		b.Revision--
		return err
	}
	return nil
}

func (t *badgerTx) DeleteBlob(b *balloon.Blob) error {
	if err := t.checkBlobRevision(b); err != nil {
		return err
	}
	return t.txn.Delete(keyBlob(b.Digest))
}

func (t *badgerTx) AppendDelta(e *balloon.DeltaEntry) error {
	var last int64
	item, err := t.txn.Get(deltaCounterKey)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt delta counter")
			}
			last = int64(binary.BigEndian.Uint64(val))
			return nil
		}); err != nil {
			return err
		}
	}

	cursor := last + 1
	if err := t.txn.Set(deltaCounterKey, binary.BigEndian.AppendUint64(nil, uint64(cursor))); err != nil {
		return err
	}
	e.Cursor = cursor
	return t.put(keyDelta(e.OwnerID, cursor), e)
}

func (t *badgerTx) ListDelta(ownerID string, after int64, limit int) ([]*balloon.DeltaEntry, error) {
	prefix := keyDeltaPrefix(ownerID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var entries []*balloon.DeltaEntry
	for it.Seek(keyDelta(ownerID, after+1)); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
		var e balloon.DeltaEntry
		if err := it.Item().Value(func(val []byte) error { return codec.Unmarshal(val, &e) }); err != nil {
			return nil, fmt.Errorf("decoding delta entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (t *badgerTx) LatestDelta(ownerID string) (int64, error) {
	prefix := keyDeltaPrefix(ownerID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = true
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(bytes.Clone(prefix), 0xff))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	return int64(binary.BigEndian.Uint64(key[len(prefix):])), nil
}

// badgerLogger routes badger's own log lines through the engine logger.
type badgerLogger struct {
	logger balloon.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

var (
	_ balloon.Database = (*BadgerDatabase)(nil)
	_ balloon.Tx       = (*badgerTx)(nil)
)
