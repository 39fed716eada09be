package balloon

import "context"

// Permission is a capability checked against a node before an operation.
type Permission int

const (
	PermissionRead Permission = iota + 1
	PermissionWrite
)

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	default:
		return "unknown"
	}
}

// AccessControl decides whether the acting user may exercise a permission on
// a node. The node is nil when the target is the acting user's root.
type AccessControl interface {
	IsAllowed(ctx context.Context, node *Node, perm Permission) bool
}

// OwnerAccess grants every permission to the node owner and, for nodes inside
// a share, read access to everyone. It is the default AccessControl.
type OwnerAccess struct{}

func (OwnerAccess) IsAllowed(ctx context.Context, node *Node, perm Permission) bool {
	user, ok := UserFrom(ctx)
	if !ok {
		return false
	}
	if node == nil || node.OwnerID == user {
		return true
	}
	return perm == PermissionRead && node.Share != ShareNone
}

// QuotaPolicy is consulted before content is written.
type QuotaPolicy interface {
	CheckQuota(ctx context.Context, userID string, additionalBytes int64) bool
}

// Unlimited accepts every write.
type Unlimited struct{}

func (Unlimited) CheckQuota(context.Context, string, int64) bool { return true }

// NameMatcher reports whether a node name is a recognized temporary file name.
type NameMatcher interface {
	Match(name string) bool
}

type userKey struct{}

// WithUser returns a context carrying the acting user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the acting user id stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey{}).(string)
	return u, ok && u != ""
}
