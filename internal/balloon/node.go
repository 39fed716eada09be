package balloon

import (
	"slices"
	"strings"
	"time"
)

// RootID is the parent id of nodes placed directly in a user's root.
const RootID = ""

const maxNameLength = 255

// NodeKind distinguishes files from collections.
type NodeKind int

const (
	KindFile NodeKind = iota + 1
	KindCollection
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// ShareState records whether a node is shared and through which share root.
type ShareState int

const (
	ShareNone ShareState = iota
	ShareRoot
	ShareMember
)

func (s ShareState) String() string {
	switch s {
	case ShareRoot:
		return "share-root"
	case ShareMember:
		return "share-member"
	default:
		return "none"
	}
}

// Meta is the user-editable metadata of a node.
type Meta struct {
	Description string   `cbor:"1,keyasint,omitempty"`
	Color       string   `cbor:"2,keyasint,omitempty"`
	Tags        []string `cbor:"3,keyasint,omitempty"`
}

// Node is a file or a collection in a user's tree. File-only fields are zero
// for collections.
type Node struct {
	ID          string
	Kind        NodeKind
	Name        string
	ParentID    string
	OwnerID     string
	Created     time.Time
	Changed     time.Time
	DeletedAt   *time.Time
	Readonly    bool
	Share       ShareState
	ShareRootID string
	Meta        Meta

	ContentHash string
	Size        int64
	MimeType    string
	Version     int
	BlobRef     string

	// Revision is the optimistic concurrency token maintained by the Database.
	Revision int64
}

func (n *Node) IsFile() bool       { return n.Kind == KindFile }
func (n *Node) IsCollection() bool { return n.Kind == KindCollection }
func (n *Node) IsDeleted() bool    { return n.DeletedAt != nil }

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	if n.DeletedAt != nil {
		t := *n.DeletedAt
		c.DeletedAt = &t
	}
	c.Meta.Tags = slices.Clone(n.Meta.Tags)
	return &c
}

// ValidateName checks that name can be used as a node name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return invalid("validate", "", "name is empty")
	case name == "." || name == "..":
		return invalid("validate", "", "name %q is reserved", name)
	case len(name) > maxNameLength:
		return invalid("validate", "", "name is longer than %d bytes", maxNameLength)
	case strings.ContainsAny(name, "/\\<>:\"|?*\x00"):
		return invalid("validate", "", "name %q contains a forbidden character", name)
	case strings.TrimSpace(name) != name:
		return invalid("validate", "", "name %q has leading or trailing whitespace", name)
	}
	return nil
}
