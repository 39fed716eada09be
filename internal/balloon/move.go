package balloon

import "context"

// Move reparents a node under targetParentID. Moving a node to its current
// parent, into itself or below itself fails with a Conflict before anything
// is written. Delta consumers observe the node live at its new path followed
// by deleted at its old path.
func (s *Service) Move(ctx context.Context, id, targetParentID string, mode ConflictMode) (*Node, error) {
	const op = "move"
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
	payload, err := before(ctx, s, EventMove, id, "", MovePayload{
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
		n, err := s.mustGetLive(tx, op, id)
		if err != nil {
			return err
		}
		if targetParentID == n.ID {
			return conflict(op, id, ReasonSelfMove, "cannot move a node into itself")
		}
		if targetParentID == n.ParentID {
			return conflict(op, id, ReasonSelfMove, "node is already in the target collection")
		}
		parent, err := s.targetFor(tx, op, targetParentID)
		if err != nil {
			return err
		}
		if n.IsCollection() && parent != nil {
			inside, err := s.isDescendant(tx, parent.ID, n.ID)
			if err != nil {
				return err
			}
			if inside {
				return conflict(op, id, ReasonCycle, "target is below the moved collection")
			}
		}
		if err := s.checkMovable(ctx, tx, op, n, parent); err != nil {
			return err
		}
		result, err = s.relocate(ctx, tx, st, n, parent, payload.Name, payload.Mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventMove, id, "", payload)
	return result, nil
}

func (s *Service) checkMovable(ctx context.Context, tx Tx, op string, n, parent *Node) error {
	if !s.allowed(ctx, n, PermissionWrite) || !s.allowed(ctx, parent, PermissionWrite) {
		return forbidden(op, n.ID)
	}
	if n.ParentID != RootID {
		from, err := tx.GetNode(n.ParentID)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, from, PermissionWrite) {
			return forbidden(op, n.ID)
		}
	}
	if n.Readonly {
		return conflict(op, n.ID, ReasonReadonly, "node is readonly")
	}
	return nil
}

// relocate places n under parent as name. On a merge the surviving node is
// the existing destination and n is purged after its content or children
// were folded in.
func (s *Service) relocate(ctx context.Context, tx Tx, st *txState, n, parent *Node, name string, mode ConflictMode) (*Node, error) {
	const op = "move"
	owner, pid := ownerUnder(parent, n.OwnerID), parentIDOf(parent)
	srcPath, err := s.pathOf(tx, n)
	if err != nil {
		return nil, err
	}
	existing, err := tx.FindChild(owner, pid, name)
	if err != nil {
		return nil, err
	}
	res, err := s.resolve(op, pid, existing, n.Kind, name, mode, takenIn(tx, owner, pid))
	if err != nil {
		return nil, err
	}

	if res.Merge {
		if n.Readonly {
			return nil, conflict(op, n.ID, ReasonReadonly, "%q is readonly", n.Name)
		}
		if existing.IsCollection() && existing.Readonly {
			return nil, conflict(op, existing.ID, ReasonReadonly, "collection is readonly")
		}
		dst := existing
		if n.IsFile() {
			if dst, err = s.overwriteWith(ctx, tx, st, existing, n); err != nil {
				return nil, err
			}
		} else {
			children, err := tx.ListChildren(n.OwnerID, n.ID, false)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if _, err := s.relocate(ctx, tx, st, c, dst, c.Name, mode); err != nil {
					return nil, err
				}
			}
		}
		if err := s.purgeTree(tx, st, n); err != nil {
			return nil, err
		}
		if err := st.logLive(tx, dst); err != nil {
			return nil, err
		}
		st.logAt(n, srcPath, true)
		return dst, nil
	}

	n.ParentID = pid
	n.Name = res.Name
	if n.Share != ShareRoot {
		state, root := shareUnder(parent)
		if state != n.Share || root != n.ShareRootID {
			if err := s.restampShare(tx, n, state, root); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.UpdateNode(n); err != nil {
		return nil, err
	}
	if err := st.logLive(tx, n); err != nil {
		return nil, err
	}
	st.logAt(n, srcPath, true)
	return n, nil
}

// Rename changes the name of a node in place. ConflictMerge is rejected
// because two siblings cannot be folded by a rename.
func (s *Service) Rename(ctx context.Context, id, name string, mode ConflictMode) (*Node, error) {
	const op = "rename"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventRename, id, "", RenamePayload{Name: name, Mode: mode})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	name, mode = payload.Name, payload.Mode
	if err := ValidateName(name); err != nil {
		return nil, reattribute(err, op, id)
	}

	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGetLive(tx, op, id)
		if err != nil {
			return err
		}
		if n.Name == name {
			result = n
			return nil
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if n.Readonly {
			return conflict(op, id, ReasonReadonly, "node is readonly")
		}
		existing, err := tx.FindChild(n.OwnerID, n.ParentID, name)
		if err != nil {
			return err
		}
		res, err := s.resolve(op, id, existing, n.Kind, name, mode, takenIn(tx, n.OwnerID, n.ParentID))
		if err != nil {
			return err
		}
		if res.Merge {
			return conflict(op, id, ReasonNameCollision, "%q already exists", name)
		}
		oldPath, err := s.pathOf(tx, n)
		if err != nil {
			return err
		}
		n.Name = res.Name
		n.Changed = s.clock.Now()
		if err := tx.UpdateNode(n); err != nil {
			return err
		}
		result = n
		if err := st.logLive(tx, n); err != nil {
			return err
		}
		st.logAt(n, oldPath, true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventRename, id, "", payload)
	return result, nil
}
