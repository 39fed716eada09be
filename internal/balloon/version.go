package balloon

import (
	"fmt"
	"slices"
	"time"
)

// VersionType describes the operation that produced a version.
type VersionType int

const (
	VersionCreate VersionType = iota + 1
	VersionEdit
	VersionRestore
	VersionDelete
	VersionUndelete
)

func (t VersionType) String() string {
	switch t {
	case VersionCreate:
		return "create"
	case VersionEdit:
		return "edit"
	case VersionRestore:
		return "restore"
	case VersionDelete:
		return "delete"
	case VersionUndelete:
		return "undelete"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// VersionRecord is one entry of a file's history.
type VersionRecord struct {
	Version  int
	Changed  time.Time
	UserID   string
	Type     VersionType
	BlobRef  string
	Size     int64
	MimeType string
	// Origin is the version a RESTORE record was restored from.
	Origin int
}

// History is the ordered set of a file's version records, keyed by version
// number. Records are kept oldest first.
type History struct {
	byVersion map[int]*VersionRecord
	order     []int
}

// NewHistory builds a History from records in any order.
func NewHistory(records []*VersionRecord) *History {
	h := &History{byVersion: make(map[int]*VersionRecord, len(records))}
	for _, r := range records {
		h.byVersion[r.Version] = r
		h.order = append(h.order, r.Version)
	}
	slices.Sort(h.order)
	return h
}

func (h *History) Len() int { return len(h.order) }

// Get returns the record for version v.
func (h *History) Get(v int) (*VersionRecord, bool) {
	r, ok := h.byVersion[v]
	return r, ok
}

// Latest returns the newest record, or nil for an empty history.
func (h *History) Latest() *VersionRecord {
	if len(h.order) == 0 {
		return nil
	}
	return h.byVersion[h.order[len(h.order)-1]]
}

// Append adds a record whose version must be greater than every existing one.
func (h *History) Append(r *VersionRecord) error {
	if latest := h.Latest(); latest != nil && r.Version <= latest.Version {
		return fmt.Errorf("version %d is not newer than %d", r.Version, latest.Version)
	}
	h.byVersion[r.Version] = r
	h.order = append(h.order, r.Version)
	return nil
}

// Remove deletes version v and reports whether it was present.
func (h *History) Remove(v int) bool {
	if _, ok := h.byVersion[v]; !ok {
		return false
	}
	delete(h.byVersion, v)
	if i, found := slices.BinarySearch(h.order, v); found {
		h.order = slices.Delete(h.order, i, i+1)
	}
	return true
}

// Evict drops the oldest records until one more record fits under max and
// returns what it removed, oldest first.
func (h *History) Evict(max int) []*VersionRecord {
	if max < 1 {
		max = 1
	}
	var evicted []*VersionRecord
	for len(h.order) >= max {
		v := h.order[0]
		evicted = append(evicted, h.byVersion[v])
		delete(h.byVersion, v)
		h.order = h.order[1:]
	}
	return evicted
}

// Records returns the records oldest first.
func (h *History) Records() []*VersionRecord {
	out := make([]*VersionRecord, 0, len(h.order))
	for _, v := range h.order {
		out = append(out, h.byVersion[v])
	}
	return out
}

// References reports whether any record points at digest.
func (h *History) References(digest string) bool {
	for _, r := range h.byVersion {
		if r.BlobRef == digest {
			return true
		}
	}
	return false
}

// Digests returns the distinct blob digests referenced by the history.
func (h *History) Digests() []string {
	var out []string
	for _, v := range h.order {
		if d := h.byVersion[v].BlobRef; d != "" && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}
