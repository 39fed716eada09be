package balloon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balloon-go/internal/balloon"
)

func records(digests ...string) []*balloon.VersionRecord {
	out := make([]*balloon.VersionRecord, len(digests))
	for i, d := range digests {
		out[i] = &balloon.VersionRecord{Version: i + 1, BlobRef: d, Type: balloon.VersionEdit}
	}
	return out
}

func versions(recs []*balloon.VersionRecord) []int {
	var out []int
	for _, r := range recs {
		out = append(out, r.Version)
	}
	return out
}

func TestHistory_OrdersRecords(t *testing.T) {
	recs := records("a", "b", "c")
	h := balloon.NewHistory([]*balloon.VersionRecord{recs[2], recs[0], recs[1]})

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []int{1, 2, 3}, versions(h.Records()))
	assert.Equal(t, 3, h.Latest().Version)

	r, ok := h.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b", r.BlobRef)
	_, ok = h.Get(4)
	assert.False(t, ok)

	assert.Nil(t, balloon.NewHistory(nil).Latest())
}

func TestHistory_Append(t *testing.T) {
	h := balloon.NewHistory(records("a", "b"))

	require.NoError(t, h.Append(&balloon.VersionRecord{Version: 5}))
	assert.Equal(t, []int{1, 2, 5}, versions(h.Records()))

	assert.Error(t, h.Append(&balloon.VersionRecord{Version: 5}))
	assert.Error(t, h.Append(&balloon.VersionRecord{Version: 3}))
}

func TestHistory_Remove(t *testing.T) {
	h := balloon.NewHistory(records("a", "b", "c"))

	assert.True(t, h.Remove(2))
	assert.False(t, h.Remove(2))
	assert.Equal(t, []int{1, 3}, versions(h.Records()))
	assert.False(t, h.References("b"))
}

func TestHistory_Evict(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		max       int
		evicted   []int
		remaining []int
	}{
		{name: "room left", count: 2, max: 3, evicted: nil, remaining: []int{1, 2}},
		{name: "full", count: 3, max: 3, evicted: []int{1}, remaining: []int{2, 3}},
		{name: "over the limit", count: 5, max: 3, evicted: []int{1, 2, 3}, remaining: []int{4, 5}},
		{name: "max of one", count: 2, max: 1, evicted: []int{1, 2}, remaining: nil},
		{name: "non-positive max", count: 1, max: 0, evicted: []int{1}, remaining: nil},
		{name: "empty", count: 0, max: 2, evicted: nil, remaining: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digests := make([]string, tt.count)
			for i := range digests {
				digests[i] = string(rune('a' + i))
			}
			h := balloon.NewHistory(records(digests...))

			evicted := h.Evict(tt.max)

			assert.Equal(t, tt.evicted, versions(evicted))
			assert.Equal(t, tt.remaining, versions(h.Records()))
			require.NoError(t, h.Append(&balloon.VersionRecord{Version: tt.count + 1}))
			assert.LessOrEqual(t, h.Len(), max(tt.max, 1))
		})
	}
}

func TestHistory_Digests(t *testing.T) {
	h := balloon.NewHistory(records("a", "", "b", "a"))

	assert.Equal(t, []string{"a", "b"}, h.Digests())
	assert.True(t, h.References("a"))
	assert.False(t, h.References("c"))
}

func TestVersionType_String(t *testing.T) {
	assert.Equal(t, "restore", balloon.VersionRestore.String())
	assert.Equal(t, "undelete", balloon.VersionUndelete.String())
	assert.Equal(t, "type(0)", balloon.VersionType(0).String())
}
