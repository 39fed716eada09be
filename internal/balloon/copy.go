package balloon

import (
	"context"
	"errors"
)

// Copy duplicates a node under targetParentID. Files share the blob of the
// source through a new reference; collections are copied depth-first with the
// conflict mode applied at every level.
func (s *Service) Copy(ctx context.Context, id, targetParentID string, mode ConflictMode) (*Node, error) {
	const op = "copy"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	var src *Node
	err := s.read(ctx, op, id, func(tx Tx) error {
		var err error
		src, err = s.mustGetLive(tx, op, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	kind, recursionID := EventCopyFile, ""
	if src.IsCollection() {
		kind, recursionID = EventCopyCollection, s.idgen.New()
	}
	payload, err := before(ctx, s, kind, id, recursionID, CopyPayload{
		TargetParentID: targetParentID, Name: src.Name, Mode: mode,
	})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	targetParentID = payload.TargetParentID
	if err := ValidateName(payload.Name); err != nil {
		return nil, reattribute(err, op, id)
	}

	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		src, err := s.mustGetLive(tx, op, id)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, src, PermissionRead) {
			return forbidden(op, id)
		}
		parent, err := s.targetFor(tx, op, targetParentID)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, parent, PermissionWrite) {
			return forbidden(op, targetParentID)
		}
		if src.IsCollection() && parent != nil {
			inside, err := s.isDescendant(tx, parent.ID, src.ID)
			if err != nil {
				return err
			}
			if inside {
				return conflict(op, id, ReasonCycle, "cannot copy a collection into itself")
			}
		}
		result, err = s.copyNode(ctx, tx, st, src, parent, payload.Name, payload.Mode, recursionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	payload.NewNodeID = result.ID
	s.after(ctx, kind, id, recursionID, payload)
	return result, nil
}

func (s *Service) copyNode(ctx context.Context, tx Tx, st *txState, src, parent *Node, name string, mode ConflictMode, recursionID string) (*Node, error) {
	const op = "copy"
	owner, pid := ownerUnder(parent, st.user), parentIDOf(parent)
	existing, err := tx.FindChild(owner, pid, name)
	if err != nil {
		return nil, err
	}
	res, err := s.resolve(op, pid, existing, src.Kind, name, mode, takenIn(tx, owner, pid))
	if err != nil {
		return nil, err
	}
	if res.Merge {
		if existing.ID == src.ID {
			return nil, conflict(op, src.ID, ReasonSelfMove, "cannot merge a node into itself")
		}
		if src.IsFile() {
			dst, err := s.overwriteWith(ctx, tx, st, existing, src)
			if err != nil {
				return nil, err
			}
			return dst, st.logLive(tx, dst)
		}
		if existing.Readonly {
			return nil, conflict(op, existing.ID, ReasonReadonly, "collection is readonly")
		}
		return existing, s.copyChildren(ctx, tx, st, src, existing, mode, recursionID)
	}

	now := s.clock.Now()
	n := src.Clone()
	n.ID = s.idgen.New()
	n.Name = res.Name
	n.ParentID = pid
	n.OwnerID = owner
	n.Readonly = false
	n.Revision = 0
	n.Share, n.ShareRootID = shareUnder(parent)

	var rec *VersionRecord
	if src.IsFile() && src.Version > 0 {
		if !s.quota.CheckQuota(ctx, owner, src.Size) {
			return nil, newError(CodeInsufficientStorage, op, src.ID, "quota exceeded for %d bytes", src.Size)
		}
		n.Version = 1
		rec = &VersionRecord{
			Version:  1,
			Changed:  now,
			UserID:   st.user,
			Type:     VersionCreate,
			BlobRef:  src.BlobRef,
			Size:     src.Size,
			MimeType: src.MimeType,
		}
	}
	if err := tx.InsertNode(n); err != nil {
		return nil, err
	}
	if rec != nil {
		if rec.BlobRef != "" {
			if err := s.addContentRef(tx, op, n, rec.BlobRef); err != nil {
				return nil, err
			}
		}
		if err := tx.InsertVersion(n.ID, rec); err != nil {
			return nil, err
		}
	}
	if err := st.logLive(tx, n); err != nil {
		return nil, err
	}
	if n.IsCollection() {
		if err := s.copyChildren(ctx, tx, st, src, n, mode, recursionID); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *Service) copyChildren(ctx context.Context, tx Tx, st *txState, src, dst *Node, mode ConflictMode, recursionID string) error {
	children, err := tx.ListChildren(src.OwnerID, src.ID, false)
	if err != nil {
		return err
	}
	for _, c := range children {
		copied, err := s.copyNode(ctx, tx, st, c, dst, c.Name, mode, recursionID)
		if err != nil {
			return err
		}
		kind := EventCopyFile
		if c.IsCollection() {
			kind = EventCopyCollection
		}
		st.emit(Event{Kind: kind, NodeID: c.ID, RecursionID: recursionID, Payload: CopyPayload{
			TargetParentID: dst.ID, Name: copied.Name, Mode: mode, NewNodeID: copied.ID,
		}})
	}
	return nil
}

// overwriteWith records the current content of src as a new version of dst.
func (s *Service) overwriteWith(ctx context.Context, tx Tx, st *txState, dst, src *Node) (*Node, error) {
	const op = "merge"
	if src.Version == 0 || dst.ContentHash == src.ContentHash {
		return dst, nil
	}
	if !s.allowed(ctx, dst, PermissionWrite) {
		return nil, forbidden(op, dst.ID)
	}
	if dst.Readonly {
		return nil, conflict(op, dst.ID, ReasonReadonly, "file is readonly")
	}
	if !s.quota.CheckQuota(ctx, dst.OwnerID, src.Size) {
		return nil, newError(CodeInsufficientStorage, op, dst.ID, "quota exceeded for %d bytes", src.Size)
	}
	if src.BlobRef != "" {
		if err := s.addContentRef(tx, op, dst, src.BlobRef); err != nil {
			return nil, err
		}
	}
	records, err := tx.ListVersions(dst.ID)
	if err != nil {
		return nil, err
	}
	hist := NewHistory(records)
	now := s.clock.Now()
	rec := &VersionRecord{
		Version:  dst.Version + 1,
		Changed:  now,
		UserID:   st.user,
		Type:     VersionEdit,
		BlobRef:  src.BlobRef,
		Size:     src.Size,
		MimeType: src.MimeType,
	}
	if dst.Version == 0 {
		rec.Type = VersionCreate
	}
	evicted, err := s.appendVersion(tx, dst, hist, rec)
	if err != nil {
		return nil, err
	}
	dst.ContentHash = src.ContentHash
	dst.Size = src.Size
	dst.BlobRef = src.BlobRef
	dst.MimeType = src.MimeType
	dst.Version = rec.Version
	dst.Changed = now
	if err := tx.UpdateNode(dst); err != nil {
		return nil, err
	}
	return dst, s.releaseUnused(tx, st, dst, hist, evicted)
}

// addContentRef references digest from n. A missing entry means metadata
// points at content that no longer exists.
func (s *Service) addContentRef(tx Tx, op string, n *Node, digest string) error {
	err := s.blobs.addRefExisting(tx, digest, BlobRef{NodeID: n.ID, OwnerID: n.OwnerID})
	if errors.Is(err, ErrBlobNotFound) {
		s.logger.Error("content missing", "op", op, "node", n.ID, "digest", digest)
		return &Error{Code: CodeContentNotFound, Op: op, NodeID: n.ID, Message: "content " + digest + " is missing", Err: err}
	}
	return err
}
