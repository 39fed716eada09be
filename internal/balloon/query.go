package balloon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// Get returns a node by id, including soft-deleted ones.
func (s *Service) Get(ctx context.Context, id string) (*Node, error) {
	const op = "get"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	var n *Node
	err := s.read(ctx, op, id, func(tx Tx) error {
		var err error
		n, err = s.mustGet(tx, op, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !s.allowed(ctx, n, PermissionRead) {
		return nil, forbidden(op, id)
	}
	return n, nil
}

// Children lists the children of a collection, or of the acting user's root
// when id is RootID.
func (s *Service) Children(ctx context.Context, id string, includeDeleted bool) ([]*Node, error) {
	const op = "children"
	user, err := s.user(ctx, op, id)
	if err != nil {
		return nil, err
	}
	var children []*Node
	err = s.read(ctx, op, id, func(tx Tx) error {
		var parent *Node
		if id != RootID {
			parent, err = s.mustGet(tx, op, id)
			if err != nil {
				return err
			}
			if !parent.IsCollection() {
				return conflict(op, id, ReasonKindMismatch, "node is not a collection")
			}
		}
		if !s.allowed(ctx, parent, PermissionRead) {
			return forbidden(op, id)
		}
		children, err = tx.ListChildren(ownerUnder(parent, user), id, includeDeleted)
		return err
	})
	return children, err
}

// Lookup resolves a slash separated path from the acting user's root to a
// live node.
func (s *Service) Lookup(ctx context.Context, path string) (*Node, error) {
	const op = "lookup"
	user, err := s.user(ctx, op, "")
	if err != nil {
		return nil, err
	}
	var n *Node
	err = s.read(ctx, op, "", func(tx Tx) error {
		parentID := RootID
		for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
			if name == "" {
				continue
			}
			child, err := tx.FindChild(user, parentID, name)
			if err != nil {
				return err
			}
			if child == nil {
				return notFound(op, "", "path %q does not exist", path)
			}
			n, parentID = child, child.ID
		}
		if n == nil {
			return invalid(op, "", "path %q names the root", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !s.allowed(ctx, n, PermissionRead) {
		return nil, forbidden(op, n.ID)
	}
	return n, nil
}

// Path returns the materialized path of a node.
func (s *Service) Path(ctx context.Context, id string) (string, error) {
	const op = "path"
	if _, err := s.user(ctx, op, id); err != nil {
		return "", err
	}
	var p string
	err := s.read(ctx, op, id, func(tx Tx) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, n, PermissionRead) {
			return forbidden(op, id)
		}
		p, err = s.pathOf(tx, n)
		return err
	})
	return p, err
}

// History returns the version records of a file, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]*VersionRecord, error) {
	const op = "history"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	var records []*VersionRecord
	err := s.read(ctx, op, id, func(tx Tx) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			return conflict(op, id, ReasonKindMismatch, "node is not a file")
		}
		if !s.allowed(ctx, n, PermissionRead) {
			return forbidden(op, id)
		}
		records, err = tx.ListVersions(id)
		return err
	})
	return records, err
}

// Open streams the content of a file at version, or the current content when
// version is 0.
func (s *Service) Open(ctx context.Context, id string, version int) (io.ReadCloser, error) {
	const op = "open"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	var digest string
	err := s.read(ctx, op, id, func(tx Tx) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !n.IsFile() {
			return conflict(op, id, ReasonKindMismatch, "node is not a file")
		}
		if !s.allowed(ctx, n, PermissionRead) {
			return forbidden(op, id)
		}
		if version == 0 || version == n.Version {
			digest = n.BlobRef
			return nil
		}
		records, err := tx.ListVersions(id)
		if err != nil {
			return err
		}
		rec, ok := NewHistory(records).Get(version)
		if !ok {
			return notFound(op, id, "version %d does not exist", version)
		}
		digest = rec.BlobRef
		return nil
	})
	if err != nil {
		return nil, err
	}
	if digest == "" {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	rc, err := s.blobs.Open(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			s.logger.Error("content missing", "node", id, "version", version, "digest", digest, "error", err)
			return nil, &Error{Code: CodeContentNotFound, Op: op, NodeID: id,
				Message: "content " + digest + " is missing", Err: err}
		}
		return nil, asServiceError(op, id, err)
	}
	return rc, nil
}
