package balloon

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// DeletionPolicy selects between the two delete effects.
type DeletionPolicy int

const (
	// DeleteSoft marks the node deleted and keeps history and content.
	DeleteSoft DeletionPolicy = iota
	// DeleteHard purges the node, its history and its blob references.
	DeleteHard
)

func (p DeletionPolicy) String() string {
	if p == DeleteHard {
		return "hard"
	}
	return "soft"
}

// DeletionPolicyFor returns DeleteHard for nodes whose name is a recognized
// temporary file name and DeleteSoft otherwise.
func (s *Service) DeletionPolicyFor(n *Node) DeletionPolicy {
	if n.IsFile() && s.tempFiles != nil && s.tempFiles.Match(n.Name) {
		return DeleteHard
	}
	return DeleteSoft
}

// Delete soft-deletes a node. Deleting a collection also deletes its live
// descendants, stamped with the same time so Undelete can bring them back.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.DeleteWithPolicy(ctx, id, DeleteSoft)
}

// Purge irreversibly removes a node and its subtree.
func (s *Service) Purge(ctx context.Context, id string) error {
	return s.DeleteWithPolicy(ctx, id, DeleteHard)
}

// DeleteWithPolicy deletes a node with the given policy. Listeners of
// EventDelete may change the policy.
func (s *Service) DeleteWithPolicy(ctx context.Context, id string, policy DeletionPolicy) error {
	const op = "delete"
	if _, err := s.user(ctx, op, id); err != nil {
		return err
	}
	payload, err := before(ctx, s, EventDelete, id, "", DeletePayload{Policy: policy})
	if err != nil {
		return asServiceError(op, id, err)
	}
	if payload.Policy == DeleteHard {
		err = s.purge(ctx, op, id)
	} else {
		err = s.softDelete(ctx, op, id)
	}
	if err != nil {
		return err
	}
	s.after(ctx, EventDelete, id, "", payload)
	return nil
}

func (s *Service) softDelete(ctx context.Context, op, id string) error {
	return s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if n.IsDeleted() {
			return nil
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if err := checkWritableTree(tx, op, n, false); err != nil {
			return err
		}
		p, err := s.pathOf(tx, n)
		if err != nil {
			return err
		}
		if err := s.softDeleteTree(tx, st, n, s.clock.Now()); err != nil {
			return err
		}
		st.logAt(n, p, true)
		return nil
	})
}

// checkWritableTree fails with ReasonReadonly when n or any descendant is
// readonly, so a delete either covers the whole subtree or nothing.
func checkWritableTree(tx Tx, op string, n *Node, includeDeleted bool) error {
	if n.Readonly {
		return conflict(op, n.ID, ReasonReadonly, "%q is readonly", n.Name)
	}
	if !n.IsCollection() {
		return nil
	}
	children, err := tx.ListChildren(n.OwnerID, n.ID, includeDeleted)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := checkWritableTree(tx, op, c, includeDeleted); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) softDeleteTree(tx Tx, st *txState, n *Node, stamp time.Time) error {
	if n.IsCollection() {
		children, err := tx.ListChildren(n.OwnerID, n.ID, false)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.softDeleteTree(tx, st, c, stamp); err != nil {
				return err
			}
		}
	}
	n.DeletedAt = &stamp
	n.Changed = stamp
	if n.IsFile() && n.Version > 0 {
		if err := s.appendLifecycle(tx, st, n, VersionDelete, stamp); err != nil {
			return err
		}
	}
	return tx.UpdateNode(n)
}

// appendLifecycle appends a DELETE or UNDELETE record carrying the current
// content and bumps the file version.
func (s *Service) appendLifecycle(tx Tx, st *txState, n *Node, typ VersionType, now time.Time) error {
	records, err := tx.ListVersions(n.ID)
	if err != nil {
		return err
	}
	hist := NewHistory(records)
	rec := &VersionRecord{
		Version:  n.Version + 1,
		Changed:  now,
		UserID:   st.user,
		Type:     typ,
		BlobRef:  n.BlobRef,
		Size:     n.Size,
		MimeType: n.MimeType,
	}
	evicted, err := s.appendVersion(tx, n, hist, rec)
	if err != nil {
		return err
	}
	n.Version = rec.Version
	return s.releaseUnused(tx, st, n, hist, evicted)
}

func (s *Service) purge(ctx context.Context, op, id string) error {
	return s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if err := checkWritableTree(tx, op, n, true); err != nil {
			return err
		}
		var p string
		if !n.IsDeleted() {
			if p, err = s.pathOf(tx, n); err != nil {
				return err
			}
		}
		if err := s.purgeTree(tx, st, n); err != nil {
			return err
		}
		if !n.IsDeleted() {
			st.logAt(n, p, true)
		}
		return nil
	})
}

// purgeTree removes n, its descendants, their history and blob references.
func (s *Service) purgeTree(tx Tx, st *txState, n *Node) error {
	if n.IsCollection() {
		children, err := tx.ListChildren(n.OwnerID, n.ID, true)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.purgeTree(tx, st, c); err != nil {
				return err
			}
		}
	}
	if n.IsFile() {
		records, err := tx.ListVersions(n.ID)
		if err != nil {
			return err
		}
		digests := NewHistory(records).Digests()
		if n.BlobRef != "" && !slices.Contains(digests, n.BlobRef) {
			digests = append(digests, n.BlobRef)
		}
		for _, d := range digests {
			if err := st.release(tx, d, n.ID); err != nil {
				return err
			}
		}
		if err := tx.DeleteVersions(n.ID); err != nil {
			return err
		}
	}
	return tx.DeleteNode(n.ID)
}

// rollbackCreate removes a node created by an operation that failed later.
func (s *Service) rollbackCreate(ctx context.Context, op, id string) {
	err := s.write(context.WithoutCancel(ctx), op, id, nil, func(tx Tx, st *txState) error {
		n, err := tx.GetNode(id)
		if err != nil || n == nil {
			return err
		}
		return s.purgeTree(tx, st, n)
	})
	if err != nil {
		s.logger.Error("rollback of created node failed", "op", op, "node", id, "error", err)
	}
}

// Undelete brings back a soft-deleted node. For a collection, descendants
// deleted together with it come back as well. A live sibling with the same
// name is handled with mode; ConflictMerge is treated as ConflictNoAction.
func (s *Service) Undelete(ctx context.Context, id string, mode ConflictMode) (*Node, error) {
	const op = "undelete"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventUndelete, id, "", UndeletePayload{Mode: mode})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	mode = payload.Mode
	if mode == ConflictMerge {
		mode = ConflictNoAction
	}

	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsDeleted() {
			return conflict(op, id, ReasonNoOp, "node is not deleted")
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if _, err := s.parentFor(tx, op, n.ParentID); err != nil {
			if IsNotFound(err) {
				return conflict(op, id, ReasonParentDeleted, "parent collection is deleted")
			}
			return err
		}
		existing, err := tx.FindChild(n.OwnerID, n.ParentID, n.Name)
		if err != nil {
			return err
		}
		res, err := s.resolve(op, n.ParentID, existing, n.Kind, n.Name, mode, takenIn(tx, n.OwnerID, n.ParentID))
		if err != nil {
			return reattribute(err, op, id)
		}
		n.Name = res.Name
		if err := s.undeleteTree(tx, st, n, *n.DeletedAt, s.clock.Now()); err != nil {
			return err
		}
		result = n
		return st.logLive(tx, n)
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventUndelete, id, "", payload)
	return result, nil
}

func (s *Service) undeleteTree(tx Tx, st *txState, n *Node, stamp, now time.Time) error {
	n.DeletedAt = nil
	n.Changed = now
	if n.IsFile() && n.Version > 0 {
		if err := s.appendLifecycle(tx, st, n, VersionUndelete, now); err != nil {
			return err
		}
	}
	if err := tx.UpdateNode(n); err != nil {
		return fmt.Errorf("reviving %s: %w", n.ID, err)
	}
	if !n.IsCollection() {
		return nil
	}
	children, err := tx.ListChildren(n.OwnerID, n.ID, true)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.DeletedAt == nil || !c.DeletedAt.Equal(stamp) {
			continue
		}
		if err := s.undeleteTree(tx, st, c, stamp, now); err != nil {
			return err
		}
	}
	return nil
}
