package balloon_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balloon-go/internal/balloon"
	"balloon-go/internal/fs"
)

func TestDelete_File(t *testing.T) {
	h := newHarness(t)
	f := h.create(h.alice, balloon.RootID, "a.txt", "keep me")
	cursor := h.cursor(h.alice)
	h.tick()

	require.NoError(t, h.svc.Delete(h.alice, f.ID))

	deleted := h.get(h.alice, f.ID)
	require.NotNil(t, deleted.DeletedAt)
	assert.True(t, h.clock.Now().Equal(*deleted.DeletedAt))
	assert.Equal(t, 2, deleted.Version)

	hist := h.history(h.alice, f.ID)
	require.Len(t, hist, 2)
	assert.Equal(t, balloon.VersionDelete, hist[1].Type)
	assert.Equal(t, hist[0].BlobRef, hist[1].BlobRef)

	assert.Empty(t, h.names(h.alice, balloon.RootID, false))
	assert.Equal(t, []string{"a.txt"}, h.names(h.alice, balloon.RootID, true))
	assert.Equal(t, []string{"-/a.txt"}, h.deltaSince(h.alice, cursor))
	assert.Equal(t, "keep me", h.content(h.alice, f.ID, 0), "trash keeps content")

	_, err := h.svc.Put(h.alice, f.ID, nil, balloon.Attributes{})
	requireCode(t, err, balloon.CodeNotFound)

	// A second delete changes nothing.
	require.NoError(t, h.svc.Delete(h.alice, f.ID))
	assert.Equal(t, 2, h.get(h.alice, f.ID).Version)
	assert.Len(t, h.deltaSince(h.alice, cursor), 1)
}

func TestDelete_CollectionAndUndelete(t *testing.T) {
	h := newHarness(t)
	docs := h.mkdir(h.alice, balloon.RootID, "docs")
	a := h.create(h.alice, docs.ID, "a.txt", "a")
	sub := h.mkdir(h.alice, docs.ID, "sub")
	b := h.create(h.alice, sub.ID, "b.txt", "b")

	require.NoError(t, h.svc.Delete(h.alice, b.ID))
	h.tick()
	cursor := h.cursor(h.alice)

	require.NoError(t, h.svc.Delete(h.alice, docs.ID))
	for _, id := range []string{docs.ID, a.ID, sub.ID} {
		n := h.get(h.alice, id)
		require.NotNil(t, n.DeletedAt, n.Name)
		assert.True(t, h.clock.Now().Equal(*n.DeletedAt), n.Name)
	}
	assert.Equal(t, []string{"-/docs"}, h.deltaSince(h.alice, cursor), "descendants are implied")

	h.tick()
	cursor = h.cursor(h.alice)
	revived, err := h.svc.Undelete(h.alice, docs.ID, balloon.ConflictNoAction)
	require.NoError(t, err)
	assert.Nil(t, revived.DeletedAt)
	assert.Equal(t, []string{"+/docs"}, h.deltaSince(h.alice, cursor))

	assert.Equal(t, []string{"a.txt", "sub"}, h.names(h.alice, docs.ID, false))
	assert.Empty(t, h.names(h.alice, sub.ID, false), "b was deleted separately")
	assert.NotNil(t, h.get(h.alice, b.ID).DeletedAt)

	hist := h.history(h.alice, a.ID)
	require.Len(t, hist, 3)
	assert.Equal(t, balloon.VersionUndelete, hist[2].Type)
	assert.Equal(t, 3, h.get(h.alice, a.ID).Version)
}

func TestUndelete_Conflicts(t *testing.T) {
	h := newHarness(t)
	old := h.create(h.alice, balloon.RootID, "a.txt", "old")
	require.NoError(t, h.svc.Delete(h.alice, old.ID))
	h.create(h.alice, balloon.RootID, "a.txt", "new")

	_, err := h.svc.Undelete(h.alice, old.ID, balloon.ConflictNoAction)
	requireConflict(t, err, balloon.ReasonNameCollision)
	_, err = h.svc.Undelete(h.alice, old.ID, balloon.ConflictMerge)
	requireConflict(t, err, balloon.ReasonNameCollision)

	revived, err := h.svc.Undelete(h.alice, old.ID, balloon.ConflictRename)
	require.NoError(t, err)
	assert.Equal(t, "a (1).txt", revived.Name)
	assert.Equal(t, "old", h.content(h.alice, old.ID, 0))

	_, err = h.svc.Undelete(h.alice, old.ID, balloon.ConflictNoAction)
	requireConflict(t, err, balloon.ReasonNoOp)
	_, err = h.svc.Undelete(h.alice, "missing", balloon.ConflictNoAction)
	requireCode(t, err, balloon.CodeNotFound)
}

func TestUndelete_ParentDeleted(t *testing.T) {
	h := newHarness(t)
	docs := h.mkdir(h.alice, balloon.RootID, "docs")
	f := h.create(h.alice, docs.ID, "f", "x")
	require.NoError(t, h.svc.Delete(h.alice, f.ID))
	h.tick()
	require.NoError(t, h.svc.Delete(h.alice, docs.ID))

	_, err := h.svc.Undelete(h.alice, f.ID, balloon.ConflictNoAction)
	requireConflict(t, err, balloon.ReasonParentDeleted)

	_, err = h.svc.Undelete(h.alice, docs.ID, balloon.ConflictNoAction)
	require.NoError(t, err)
	_, err = h.svc.Undelete(h.alice, f.ID, balloon.ConflictNoAction)
	require.NoError(t, err)
}

func TestPurge(t *testing.T) {
	h := newHarness(t)
	docs := h.mkdir(h.alice, balloon.RootID, "docs")
	f := h.create(h.alice, docs.ID, "f", "one")
	h.put(h.alice, f.ID, "two")
	g := h.create(h.alice, docs.ID, "g", "two")
	require.Equal(t, 2, h.mem.Len())
	cursor := h.cursor(h.alice)

	require.NoError(t, h.svc.Purge(h.alice, f.ID))
	_, err := h.svc.Get(h.alice, f.ID)
	requireCode(t, err, balloon.CodeNotFound)
	assert.Equal(t, 1, h.mem.Len(), "content still used by g survives")
	assert.Equal(t, []balloon.BlobRef{{NodeID: g.ID, OwnerID: "alice"}}, h.blob("two").Refs)

	require.NoError(t, h.svc.Delete(h.alice, docs.ID))
	require.NoError(t, h.svc.Purge(h.alice, docs.ID))
	assert.Zero(t, h.mem.Len())
	assert.Empty(t, h.names(h.alice, balloon.RootID, true))
	assert.Equal(t, []string{"-/docs/f", "-/docs"}, h.deltaSince(h.alice, cursor),
		"purging a trashed node is not logged again")

	err = h.svc.Purge(h.alice, docs.ID)
	requireCode(t, err, balloon.CodeNotFound)
}

func TestDelete_Readonly(t *testing.T) {
	h := newHarness(t)
	f := h.create(h.alice, balloon.RootID, "f", "x")
	yes := true
	_, err := h.svc.SetAttributes(h.alice, f.ID, balloon.Attributes{Readonly: &yes})
	require.NoError(t, err)

	requireConflict(t, h.svc.Delete(h.alice, f.ID), balloon.ReasonReadonly)
	requireConflict(t, h.svc.Purge(h.alice, f.ID), balloon.ReasonReadonly)
	assert.Nil(t, h.get(h.alice, f.ID).DeletedAt)
}

func TestDelete_ReadonlyDescendant(t *testing.T) {
	h := newHarness(t)
	d := h.mkdir(h.alice, balloon.RootID, "D")
	sub := h.mkdir(h.alice, d.ID, "sub")
	free := h.create(h.alice, d.ID, "free.txt", "f")
	locked := h.create(h.alice, sub.ID, "locked.txt", "x")
	h.lock(h.alice, locked.ID)
	cursor := h.cursor(h.alice)

	err := h.svc.Delete(h.alice, d.ID)
	requireConflict(t, err, balloon.ReasonReadonly)
	var se *balloon.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, locked.ID, se.NodeID)

	requireConflict(t, h.svc.Purge(h.alice, d.ID), balloon.ReasonReadonly)

	for _, id := range []string{d.ID, sub.ID, free.ID, locked.ID} {
		assert.Nil(t, h.get(h.alice, id).DeletedAt, id)
	}
	assert.Len(t, h.history(h.alice, free.ID), 1)
	assert.NotNil(t, h.blob("x"))
	assert.Empty(t, h.deltaSince(h.alice, cursor))

	// Deleting the unlocked siblings still works.
	require.NoError(t, h.svc.Delete(h.alice, free.ID))
}

func TestDelete_Forbidden(t *testing.T) {
	h := newHarness(t)
	f := h.create(h.alice, balloon.RootID, "f", "x")

	requireCode(t, h.svc.Delete(h.bob, f.ID), balloon.CodeForbidden)
	requireCode(t, h.svc.Delete(context.Background(), f.ID), balloon.CodeForbidden)
	assert.Nil(t, h.get(h.alice, f.ID).DeletedAt)
}

func TestDeletionPolicyFor(t *testing.T) {
	h := newHarness(t, func(s *setup) { s.opts.TempFiles = fs.NewTempFileMatcher([]string{"*.part"}) })

	cases := map[string]balloon.DeletionPolicy{
		"report.docx":      balloon.DeleteSoft,
		"~$report.docx":    balloon.DeleteHard,
		".report.txt.swp":  balloon.DeleteHard,
		"download.part":    balloon.DeleteHard,
		"notes.txt~":       balloon.DeleteHard,
		"holiday.jpg":      balloon.DeleteSoft,
		".DS_Store":        balloon.DeleteHard,
		"thumbs-database":  balloon.DeleteSoft,
		".goutputstream-X": balloon.DeleteHard,
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			n := &balloon.Node{Kind: balloon.KindFile, Name: name}
			assert.Equal(t, want, h.svc.DeletionPolicyFor(n))
		})
	}

	dir := &balloon.Node{Kind: balloon.KindCollection, Name: "build.tmp"}
	assert.Equal(t, balloon.DeleteSoft, h.svc.DeletionPolicyFor(dir), "collections are never purged by name")

	plain := newHarness(t)
	assert.Equal(t, balloon.DeleteSoft, plain.svc.DeletionPolicyFor(&balloon.Node{Kind: balloon.KindFile, Name: "x.tmp"}))
}

func TestDeleteWithPolicy_TempFile(t *testing.T) {
	h := newHarness(t, func(s *setup) { s.opts.TempFiles = fs.NewTempFileMatcher(nil) })
	f := h.create(h.alice, balloon.RootID, "draft.tmp", "scratch")

	require.NoError(t, h.svc.DeleteWithPolicy(h.alice, f.ID, h.svc.DeletionPolicyFor(f)))
	_, err := h.svc.Get(h.alice, f.ID)
	requireCode(t, err, balloon.CodeNotFound)
	assert.Zero(t, h.mem.Len())
}

func TestDelete_ListenerChangesPolicy(t *testing.T) {
	h := newHarness(t)
	h.bus.Subscribe(balloon.EventDelete, func(ctx context.Context, ev balloon.Event) (balloon.Event, error) {
		if ev.Phase == balloon.PhaseBefore {
			p := ev.Payload.(balloon.DeletePayload)
			p.Policy = balloon.DeleteHard
			ev.Payload = p
		}
		return ev, nil
	})
	f := h.create(h.alice, balloon.RootID, "f", "x")

	require.NoError(t, h.svc.Delete(h.alice, f.ID))

	_, err := h.svc.Get(h.alice, f.ID)
	requireCode(t, err, balloon.CodeNotFound)
	after := h.events.Phase(balloon.PhaseAfter)
	last := after[len(after)-1]
	assert.Equal(t, balloon.EventDelete, last.Kind)
	assert.Equal(t, balloon.DeletePayload{Policy: balloon.DeleteHard}, last.Payload)
}
