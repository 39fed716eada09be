package balloon

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Attributes is the set of node attributes a caller may set explicitly.
// Nil fields are left untouched.
type Attributes struct {
	Created  *time.Time
	Changed  *time.Time
	Readonly *bool
	MimeType *string
	Meta     *Meta
}

// IsZero reports whether no attribute is set.
func (a Attributes) IsZero() bool {
	return a.Created == nil && a.Changed == nil && a.Readonly == nil && a.MimeType == nil && a.Meta == nil
}

// ParseAttributes converts raw key/value input into Attributes. Known keys are
// created, changed (RFC 3339), readonly (bool), mime, description, color and
// tags (comma separated). Unknown keys are rejected.
func ParseAttributes(raw map[string]string) (Attributes, error) {
	const op = "parse attributes"
	var a Attributes
	var meta *Meta
	ensureMeta := func() *Meta {
		if meta == nil {
			meta = &Meta{}
		}
		return meta
	}
	for key, value := range raw {
		switch key {
		case "created", "changed":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return Attributes{}, invalid(op, "", "%s: %q is not an RFC 3339 timestamp", key, value)
			}
			t = t.UTC()
			if key == "created" {
				a.Created = &t
			} else {
				a.Changed = &t
			}
		case "readonly":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return Attributes{}, invalid(op, "", "readonly: %q is not a boolean", value)
			}
			a.Readonly = &b
		case "mime":
			if !strings.Contains(value, "/") {
				return Attributes{}, invalid(op, "", "mime: %q is not a media type", value)
			}
			v := value
			a.MimeType = &v
		case "description":
			ensureMeta().Description = value
		case "color":
			ensureMeta().Color = value
		case "tags":
			var tags []string
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			ensureMeta().Tags = tags
		default:
			return Attributes{}, invalid(op, "", "unknown attribute %q", key)
		}
	}
	a.Meta = meta
	return a, nil
}

func (a Attributes) validate(op, nodeID string) error {
	if a.Created != nil && a.Created.IsZero() {
		return invalid(op, nodeID, "created timestamp is zero")
	}
	if a.Changed != nil && a.Changed.IsZero() {
		return invalid(op, nodeID, "changed timestamp is zero")
	}
	if a.Created != nil && a.Changed != nil && a.Changed.Before(*a.Created) {
		return invalid(op, nodeID, "changed timestamp precedes created timestamp")
	}
	return nil
}

func (a Attributes) apply(n *Node) {
	if a.Created != nil {
		n.Created = *a.Created
	}
	if a.Changed != nil {
		n.Changed = *a.Changed
	}
	if a.Readonly != nil {
		n.Readonly = *a.Readonly
	}
	if a.MimeType != nil && n.IsFile() {
		n.MimeType = *a.MimeType
	}
	if a.Meta != nil {
		n.Meta = *a.Meta
	}
}

// SetAttributes updates the attributes of a node. A readonly node only
// accepts a change that clears its readonly flag.
func (s *Service) SetAttributes(ctx context.Context, id string, attrs Attributes) (*Node, error) {
	const op = "set attributes"
	if _, err := s.user(ctx, op, id); err != nil {
		return nil, err
	}
	payload, err := before(ctx, s, EventSaveAttributes, id, "", AttributesPayload{Attributes: attrs})
	if err != nil {
		return nil, asServiceError(op, id, err)
	}
	attrs = payload.Attributes
	if err := attrs.validate(op, id); err != nil {
		return nil, err
	}

	var result *Node
	err = s.write(ctx, op, id, nil, func(tx Tx, st *txState) error {
		n, err := s.mustGet(tx, op, id)
		if err != nil {
			return err
		}
		if !s.allowed(ctx, n, PermissionWrite) {
			return forbidden(op, id)
		}
		if n.Readonly && (attrs.Readonly == nil || *attrs.Readonly) {
			return conflict(op, id, ReasonReadonly, "node is readonly")
		}
		attrs.apply(n)
		if attrs.Changed == nil {
			n.Changed = s.clock.Now()
		}
		if err := tx.UpdateNode(n); err != nil {
			return err
		}
		if !n.IsDeleted() {
			if err := st.logLive(tx, n); err != nil {
				return err
			}
		}
		result = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.after(ctx, EventSaveAttributes, id, "", AttributesPayload{Attributes: attrs})
	return result, nil
}
