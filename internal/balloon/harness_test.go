package balloon_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"balloon-go/internal/balloon"
	"balloon-go/internal/database"
	"balloon-go/internal/staging"
	"balloon-go/internal/testutil"
	"balloon-go/internal/vault"
)

type setup struct {
	opts   balloon.Options
	limits staging.Limits
}

type harness struct {
	t       *testing.T
	svc     *balloon.Service
	store   *database.SQLiteDatabase
	db      *testutil.FaultyDatabase
	mem     *vault.MemoryVault
	vault   *testutil.FaultyVault
	staging *staging.StagingArea
	clock   *testutil.StubClock
	bus     *balloon.Bus
	events  *testutil.EventRecorder
	log     *testutil.RecordingLogger

	alice context.Context
	bob   context.Context
}

func newHarness(t *testing.T, configure ...func(*setup)) *harness {
	t.Helper()
	cfg := &setup{limits: staging.Limits{MaxSize: testutil.DefaultStagingMaxSize}}
	for _, fn := range configure {
		fn(cfg)
	}

	h := &harness{
		t:       t,
		store:   testutil.NewTestDatabase(t),
		mem:     testutil.NewTestVault(),
		staging: testutil.NewTestStagingAreaWithLimits(cfg.limits),
		clock:   testutil.FixedClock(),
		log:     testutil.NewRecordingLogger(),
		alice:   balloon.WithUser(context.Background(), "alice"),
		bob:     balloon.WithUser(context.Background(), "bob"),
	}
	h.db = testutil.NewFaultyDatabase(h.store)
	h.vault = testutil.NewFaultyVault(h.mem)
	h.bus, h.events = testutil.NewRecordingBus()
	if cfg.opts.Events == nil {
		cfg.opts.Events = h.bus
	}
	h.svc = balloon.NewService(h.db, h.staging, h.vault, h.log, h.clock, testutil.NewStubIDGenerator(), cfg.opts)
	return h
}

func withMaxVersions(n int) func(*setup) {
	return func(s *setup) { s.opts.MaxVersions = n }
}

func (h *harness) mkdir(ctx context.Context, parentID, name string) *balloon.Node {
	h.t.Helper()
	n, err := h.svc.CreateCollection(ctx, parentID, name, balloon.ConflictNoAction)
	require.NoError(h.t, err)
	return n
}

func (h *harness) create(ctx context.Context, parentID, name, content string) *balloon.Node {
	h.t.Helper()
	n, err := h.svc.CreateFile(ctx, parentID, name, strings.NewReader(content), balloon.Attributes{}, balloon.ConflictNoAction)
	require.NoError(h.t, err)
	return n
}

func (h *harness) put(ctx context.Context, id, content string) *balloon.Node {
	h.t.Helper()
	n, err := h.svc.Put(ctx, id, strings.NewReader(content), balloon.Attributes{})
	require.NoError(h.t, err)
	return n
}

func (h *harness) content(ctx context.Context, id string, version int) string {
	h.t.Helper()
	rc, err := h.svc.Open(ctx, id, version)
	require.NoError(h.t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) get(ctx context.Context, id string) *balloon.Node {
	h.t.Helper()
	n, err := h.svc.Get(ctx, id)
	require.NoError(h.t, err)
	return n
}

func (h *harness) history(ctx context.Context, id string) []*balloon.VersionRecord {
	h.t.Helper()
	recs, err := h.svc.History(ctx, id)
	require.NoError(h.t, err)
	return recs
}

func (h *harness) blob(content string) *balloon.Blob {
	h.t.Helper()
	b, err := h.svc.Blobs().Get(context.Background(), testutil.Digest([]byte(content)))
	require.NoError(h.t, err)
	return b
}

func (h *harness) names(ctx context.Context, parentID string, includeDeleted bool) []string {
	h.t.Helper()
	children, err := h.svc.Children(ctx, parentID, includeDeleted)
	require.NoError(h.t, err)
	var out []string
	for _, c := range children {
		out = append(out, c.Name)
	}
	return out
}

func (h *harness) cursor(ctx context.Context) string {
	h.t.Helper()
	c, err := h.svc.LatestCursor(ctx)
	require.NoError(h.t, err)
	return c
}

// deltaSince returns "+path" for live and "-path" for deleted entries.
func (h *harness) deltaSince(ctx context.Context, cursor string) []string {
	h.t.Helper()
	page, err := h.svc.Delta(ctx, cursor, 0)
	require.NoError(h.t, err)
	var out []string
	for _, e := range page.Entries {
		sign := "+"
		if e.Deleted {
			sign = "-"
		}
		out = append(out, sign+e.Path)
	}
	return out
}

// lock marks a node readonly.
func (h *harness) lock(ctx context.Context, id string) {
	h.t.Helper()
	yes := true
	_, err := h.svc.SetAttributes(ctx, id, balloon.Attributes{Readonly: &yes})
	require.NoError(h.t, err)
}

func (h *harness) tick() {
	h.clock.Advance(time.Minute)
}

func requireCode(t *testing.T, err error, code balloon.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, balloon.Code(err), "unexpected error: %v", err)
}

func requireConflict(t *testing.T, err error, reason balloon.ConflictReason) {
	t.Helper()
	requireCode(t, err, balloon.CodeConflict)
	require.Equal(t, reason, balloon.Reason(err), "unexpected reason: %v", err)
}
