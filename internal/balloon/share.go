package balloon

import "context"

// Share turns a collection owned by the acting user into a share root.
// Every descendant becomes a share member pointing back at it.
func (s *Service) Share(ctx context.Context, id string) (*Node, error) {
	const op = "share"
	user, err := s.user(ctx, op, id)
	if err != nil {
		return nil, err
	}
	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGetLive(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsCollection() {
			return conflict(op, id, ReasonKindMismatch, "only collections can be shared")
		}
		if n.OwnerID != user {
			return forbidden(op, id)
		}
		switch n.Share {
		case ShareRoot:
			result = n
			return nil
		case ShareMember:
			return conflict(op, id, ReasonNoOp, "collection is inside share %s", n.ShareRootID)
		}
		if err := s.restampShare(tx, n, ShareRoot, n.ID); err != nil {
			return err
		}
		result = n
		return tx.UpdateNode(n)
	})
	return result, err
}

// Unshare reverts Share.
func (s *Service) Unshare(ctx context.Context, id string) (*Node, error) {
	const op = "unshare"
	user, err := s.user(ctx, op, id)
	if err != nil {
		return nil, err
	}
	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if n.OwnerID != user {
			return forbidden(op, id)
		}
		if n.Share != ShareRoot {
			return conflict(op, id, ReasonNoOp, "collection is not a share root")
		}
		if err := s.restampShare(tx, n, ShareNone, ""); err != nil {
			return err
		}
		result = n
		return tx.UpdateNode(n)
	})
	return result, err
}

// restampShare sets the share state of n and of its whole subtree. n itself
// is not persisted; descendants are.
func (s *Service) restampShare(tx Tx, n *Node, state ShareState, rootID string) error {
	n.Share, n.ShareRootID = state, rootID
	if !n.IsCollection() {
		return nil
	}
	childState, childRoot := shareUnder(n)
	children, err := tx.ListChildren(n.OwnerID, n.ID, true)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.restampShare(tx, c, childState, childRoot); err != nil {
			return err
		}
		if err := tx.UpdateNode(c); err != nil {
			return err
		}
	}
	return nil
}
