package balloon

import "context"

// shareUnder returns the share state a node placed below parent inherits.
func shareUnder(parent *Node) (ShareState, string) {
	switch {
	case parent == nil:
		return ShareNone, ""
	case parent.Share == ShareRoot:
		return ShareMember, parent.ID
	case parent.Share == ShareMember:
		return ShareMember, parent.ShareRootID
	default:
		return ShareNone, ""
	}
}

// CreateCollection creates an empty collection under parentID. With
// ConflictMerge an existing collection of the same name is returned as is.
func (s *Service) CreateCollection(ctx context.Context, parentID, name string, mode ConflictMode) (*Node, error) {
	const op = "create collection"
	user, err := s.user(ctx, op, parentID)
	if err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventCreateCollection, parentID, "", CreatePayload{
		ParentID: parentID, Name: name, Mode: mode,
	})
	if err != nil {
		return nil, asServiceError(op, parentID, err)
	}
	name, mode = payload.Name, payload.Mode
	if err := ValidateName(name); err != nil {
		return nil, reattribute(err, op, parentID)
	}
	if err := payload.Attributes.validate(op, parentID); err != nil {
		return nil, err
	}

	var result *Node
	err = s.write(ctx, op, parentID, nil, func(tx Tx, st *txState) error {
		parent, err := s.targetFor(tx, op, parentID)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, parent, PermissionWrite) {
			return forbidden(op, parentID)
		}
		owner := ownerUnder(parent, user)
		existing, err := tx.FindChild(owner, parentID, name)
		if err != nil {
			return err
		}
		res, err := s.resolve(op, parentID, existing, KindCollection, name, mode, takenIn(tx, owner, parentID))
		if err != nil {
			return err
		}
		if res.Merge {
			result = existing
			return nil
		}
		now := s.clock.Now()
		n := &Node{
			ID:       s.idgen.New(),
			Kind:     KindCollection,
			Name:     res.Name,
			ParentID: parentID,
			OwnerID:  owner,
			Created:  now,
			Changed:  now,
		}
		n.Share, n.ShareRootID = shareUnder(parent)
		payload.Attributes.apply(n)
		if err := tx.InsertNode(n); err != nil {
			return err
		}
		result = n
		return st.logLive(tx, n)
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventCreateCollection, result.ID, "", payload)
	return result, nil
}
