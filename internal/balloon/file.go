package balloon

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
)

// EmptyContentHash is the content hash of zero-byte files. Such files have no
// blob reference.
const EmptyContentHash = "empty"

const defaultMimeType = "application/octet-stream"

func contentHash(staged *StagedContent) string {
	if staged.Size == 0 {
		return EmptyContentHash
	}
	return staged.Digest
}

func mimeFor(name string, attrs Attributes) string {
	if attrs.MimeType != nil {
		return *attrs.MimeType
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return defaultMimeType
}

// CreateFile creates a file under parentID with the content of r. With
// ConflictMerge an existing file of the same name receives the content as a
// new version instead.
func (s *Service) CreateFile(ctx context.Context, parentID, name string, r io.Reader, attrs Attributes, mode ConflictMode) (*Node, error) {
	const op = "create file"
	user, err := s.user(ctx, op, parentID)
	if err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventCreateFile, parentID, "", CreatePayload{
		ParentID: parentID, Name: name, Mode: mode, Attributes: attrs,
	})
	if err != nil {
		return nil, asServiceError(op, parentID, err)
	}
	name, mode, attrs = payload.Name, payload.Mode, payload.Attributes
	if err := ValidateName(name); err != nil {
		return nil, reattribute(err, op, parentID)
	}
	if err := attrs.validate(op, parentID); err != nil {
		return nil, err
	}

	var (
		parent   *Node
		existing *Node
		res      Resolution
	)
	err = s.read(ctx, op, parentID, func(tx Tx) error {
		var err error
		if parent, err = s.targetFor(tx, op, parentID); err != nil {
			return err
		}
		if !s.allowed(ctx, parent, PermissionWrite) {
			return forbidden(op, parentID)
		}
		owner := ownerUnder(parent, user)
		if existing, err = tx.FindChild(owner, parentID, name); err != nil {
			return err
		}
		res, err = s.resolve(op, parentID, existing, KindFile, name, mode, takenIn(tx, owner, parentID))
		return err
	})
	if err != nil {
		return nil, err
	}

	staged, err := s.staging.Stage(ctx, r)
	if err != nil {
		return nil, asServiceError(op, parentID, err)
	}
	defer staged.Release()

	if res.Merge {
		n, err := s.putStaged(ctx, op, existing, staged, attrs)
		if err != nil {
			return nil, err
		}
		s.after(ctx, EventCreateFile, n.ID, "", payload)
		return n, nil
	}

	now := s.clock.Now()
	node := &Node{
		ID:       s.idgen.New(),
		Kind:     KindFile,
		Name:     res.Name,
		ParentID: parentID,
		OwnerID:  ownerUnder(parent, user),
		Created:  now,
		Changed:  now,
	}
	node.Share, node.ShareRootID = shareUnder(parent)
	err = s.write(ctx, op, parentID, nil, func(tx Tx, st *txState) error {
		if _, err := s.targetFor(tx, op, parentID); err != nil {
			return err
		}
		if c, err := tx.FindChild(node.OwnerID, parentID, node.Name); err != nil || c != nil {
			if err != nil {
				return err
			}
			return conflict(op, parentID, ReasonNameCollision, "%q was created concurrently", node.Name)
		}
		return tx.InsertNode(node)
	})
	if err != nil {
		return nil, err
	}

	n, err := s.putStaged(ctx, op, node, staged, attrs)
	if err != nil {
		s.rollbackCreate(ctx, op, node.ID)
		return nil, err
	}
	s.after(ctx, EventCreateFile, n.ID, "", payload)
	return n, nil
}

// Put writes r as the new content of a file. Re-uploading the current content
// is a no-op and returns the node unchanged.
func (s *Service) Put(ctx context.Context, id string, r io.Reader, attrs Attributes) (*Node, error) {
	const op = "put"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventPut, id, "", PutPayload{Attributes: attrs})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	attrs = payload.Attributes
	if err := attrs.validate(op, id); err != nil {
		return nil, err
	}

	var snapshot *Node
	err = s.read(ctx, op, id, func(tx Tx) error {
		var err error
		if snapshot, err = s.mustGetLive(tx, op, id); err != nil {
			return err
		}
		if !snapshot.IsFile() {
			return conflict(op, id, ReasonKindMismatch, "node is not a file")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	staged, err := s.staging.Stage(ctx, r)
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	defer staged.Release()

	n, err := s.putStaged(ctx, op, snapshot, staged, attrs)
	if err != nil {
		return nil, err
	}
	if n.Version != snapshot.Version {
		s.after(ctx, EventPut, id, "", PutPayload{Size: staged.Size, Digest: staged.Digest, Attributes: attrs})
	}
	return n, nil
}

// putStaged records staged as the next version of snapshot. The write fails
// with a retryable conflict when the node changed since snapshot was read.
func (s *Service) putStaged(ctx context.Context, op string, snapshot *Node, staged *StagedContent, attrs Attributes) (*Node, error) {
	id := snapshot.ID
	hash := contentHash(staged)
	if hash == snapshot.ContentHash {
		return snapshot, nil
	}
	if !s.allowed(ctx, snapshot, PermissionWrite) {
		return nil, forbidden(op, id)
	}
	if snapshot.Readonly {
		return nil, conflict(op, id, ReasonReadonly, "file is readonly")
	}
	if !s.quota.CheckQuota(ctx, snapshot.OwnerID, staged.Size) {
		return nil, newError(CodeInsufficientStorage, op, id, "quota exceeded for %d bytes", staged.Size)
	}

	p, err := s.blobs.prepare(ctx, staged)
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	now := s.clock.Now()

	var result *Node
	err = s.write(ctx, op, id, p, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if n.Revision != snapshot.Revision {
			return conflict(op, id, ReasonConcurrent, "file changed during upload")
		}
		records, err := tx.ListVersions(id)
		if err != nil {
			return err
		}
		hist := NewHistory(records)

		rec := &VersionRecord{
			Version:  n.Version + 1,
			Changed:  now,
			UserID:   st.user,
			Type:     VersionEdit,
			Size:     staged.Size,
			MimeType: mimeFor(n.Name, attrs),
		}
		if n.Version == 0 {
			rec.Type = VersionCreate
		}
		if p != nil {
			rec.BlobRef = p.digest()
			if err := s.blobs.attach(tx, p, BlobRef{NodeID: n.ID, OwnerID: n.OwnerID}); err != nil {
				return err
			}
		}
		evicted, err := s.appendVersion(tx, n, hist, rec)
		if err != nil {
			return err
		}
		n.ContentHash = hash
		n.Size = rec.Size
		n.BlobRef = rec.BlobRef
		n.Version = rec.Version
		n.MimeType = rec.MimeType
		n.Changed = now
		attrs.apply(n)
		if err := tx.UpdateNode(n); err != nil {
			return err
		}
		if err := s.releaseUnused(tx, st, n, hist, evicted); err != nil {
			return err
		}
		result = n
		return st.logLive(tx, n)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendVersion evicts the oldest records so rec fits under the configured
// maximum and stores rec.
func (s *Service) appendVersion(tx Tx, n *Node, hist *History, rec *VersionRecord) ([]*VersionRecord, error) {
	evicted := hist.Evict(s.maxVersions)
	for _, e := range evicted {
		if err := tx.DeleteVersion(n.ID, e.Version); err != nil {
			return nil, err
		}
	}
	if err := hist.Append(rec); err != nil {
		return nil, err
	}
	if err := tx.InsertVersion(n.ID, rec); err != nil {
		return nil, err
	}
	return evicted, nil
}

// releaseUnused drops n's reference to the blobs of removed records that no
// remaining record and not the current content use.
func (s *Service) releaseUnused(tx Tx, st *txState, n *Node, hist *History, removed []*VersionRecord) error {
	for _, r := range removed {
		if r.BlobRef == "" || r.BlobRef == n.BlobRef || hist.References(r.BlobRef) {
			continue
		}
		if err := st.release(tx, r.BlobRef, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// Restore makes an older version current again by appending a RESTORE record
// that points at the same content. A soft-deleted file is brought back.
func (s *Service) Restore(ctx context.Context, id string, version int) (*Node, error) {
	const op = "restore"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventRestore, id, "", RestorePayload{Version: version})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	version = payload.Version

	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			return conflict(op, id, ReasonKindMismatch, "node is not a file")
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if n.Readonly {
			return conflict(op, id, ReasonReadonly, "file is readonly")
		}
		if version == n.Version {
			return conflict(op, id, ReasonNoOp, "version %d is already current", version)
		}
		records, err := tx.ListVersions(id)
		if err != nil {
			return err
		}
		hist := NewHistory(records)
		target, ok := hist.Get(version)
		if !ok {
			return notFound(op, id, "version %d does not exist", version)
		}
		if target.BlobRef != "" {
			err := s.blobs.addRefExisting(tx, target.BlobRef, BlobRef{NodeID: n.ID, OwnerID: n.OwnerID})
			if errors.Is(err, ErrBlobNotFound) {
				return notFound(op, id, "content of version %d was garbage-collected", version)
			}
			if err != nil {
				return err
			}
		}
		if n.IsDeleted() {
			if err := s.checkRevivable(tx, op, n); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		rec := &VersionRecord{
			Version:  n.Version + 1,
			Changed:  now,
			UserID:   st.user,
			Type:     VersionRestore,
			BlobRef:  target.BlobRef,
			Size:     target.Size,
			MimeType: target.MimeType,
			Origin:   target.Version,
		}
		evicted, err := s.appendVersion(tx, n, hist, rec)
		if err != nil {
			return err
		}
		n.DeletedAt = nil
		n.BlobRef = rec.BlobRef
		n.ContentHash = EmptyContentHash
		if rec.BlobRef != "" {
			n.ContentHash = rec.BlobRef
		}
		n.Size = rec.Size
		n.MimeType = rec.MimeType
		n.Version = rec.Version
		n.Changed = now
		if err := tx.UpdateNode(n); err != nil {
			return err
		}
		if err := s.releaseUnused(tx, st, n, hist, evicted); err != nil {
			return err
		}
		result = n
		return st.logLive(tx, n)
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventRestore, id, "", payload)
	return result, nil
}

// DeleteVersion removes one record from a file's history. The current
// version cannot be removed.
func (s *Service) DeleteVersion(ctx context.Context, id string, version int) error {
	const op = "delete version"
	if _, err := s.user(ctx, op, id); err != nil {
		return err
	}
	return s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			return conflict(op, id, ReasonKindMismatch, "node is not a file")
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if n.Readonly {
			return conflict(op, id, ReasonReadonly, "file is readonly")
		}
		records, err := tx.ListVersions(id)
		if err != nil {
			return err
		}
		hist := NewHistory(records)
		rec, ok := hist.Get(version)
		if !ok {
			return notFound(op, id, "version %d does not exist", version)
		}
		if version == n.Version {
			return conflict(op, id, ReasonNoOp, "version %d is current", version)
		}
		if err := tx.DeleteVersion(id, version); err != nil {
			return err
		}
		hist.Remove(version)
		if err := s.releaseUnused(tx, st, n, hist, []*VersionRecord{rec}); err != nil {
			return err
		}
		// The revision bump serializes against concurrent writers of n.
		return tx.UpdateNode(n)
	})
}

// checkRevivable verifies that a deleted node can become live again under
// its current parent and name.
func (s *Service) checkRevivable(tx Tx, op string, n *Node) error {
	if n.ParentID != RootID {
		p, err := tx.GetNode(n.ParentID)
		if err != nil {
			return err
		}
		if p == nil || p.IsDeleted() {
			return conflict(op, n.ID, ReasonParentDeleted, "parent collection is deleted")
		}
	}
	c, err := tx.FindChild(n.OwnerID, n.ParentID, n.Name)
	if err != nil {
		return err
	}
	if c != nil && c.ID != n.ID {
		return conflict(op, n.ID, ReasonNameCollision, "a live node named %q exists", n.Name)
	}
	return nil
}

// resolve applies the conflict mode for placing a node of kind under
// parentID and converts the outcome into typed errors.
func (s *Service) resolve(op, parentID string, existing *Node, kind NodeKind, name string, mode ConflictMode, taken func(string) (bool, error)) (Resolution, error) {
	res, err := Resolve(existing != nil, name, mode, taken)
	if errors.Is(err, errNameTaken) {
		return res, conflict(op, parentID, ReasonNameCollision, "%q already exists", name)
	}
	if err != nil {
		return res, err
	}
	if res.Merge && existing.Kind != kind {
		return res, conflict(op, parentID, ReasonKindMismatch, "cannot merge a %s into %s %q", kind, existing.Kind, name)
	}
	return res, nil
}
