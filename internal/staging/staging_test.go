package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balloon-go/internal/balloon"
)

type seqIDs struct{ n int }

func (g *seqIDs) New() string {
	g.n++
	return fmt.Sprintf("spool-%d", g.n)
}

func newTestArea(t *testing.T, limits Limits) (*StagingArea, *memoryStore) {
	t.Helper()
	h, err := NewHasher(SHA256)
	require.NoError(t, err)
	store := newMemoryStore()
	return newStagingArea(store, h, &seqIDs{}, limits), store
}

func readAll(t *testing.T, c *balloon.StagedContent) []byte {
	t.Helper()
	rc, err := c.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestStagingArea_Stage(t *testing.T) {
	t.Run("computes digest and size", func(t *testing.T) {
		sa, _ := newTestArea(t, Limits{MaxSize: 1024})
		c, err := sa.Stage(context.Background(), strings.NewReader("hello"))
		require.NoError(t, err)

		h, _ := NewHasher(SHA256)
		assert.Equal(t, h.Sum([]byte("hello")), c.Digest)
		assert.Equal(t, int64(5), c.Size)
		assert.Equal(t, []byte("hello"), readAll(t, c))
		assert.Equal(t, int64(5), sa.Size())
	})

	t.Run("release frees capacity", func(t *testing.T) {
		sa, store := newTestArea(t, Limits{MaxSize: 1024})
		c, err := sa.Stage(context.Background(), strings.NewReader("hello"))
		require.NoError(t, err)

		require.NoError(t, c.Release())
		require.NoError(t, c.Release())
		assert.Equal(t, int64(0), sa.Size())
		assert.Equal(t, 0, store.len())
	})

	t.Run("empty upload", func(t *testing.T) {
		sa, _ := newTestArea(t, Limits{MaxSize: 1024})
		c, err := sa.Stage(context.Background(), strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, int64(0), c.Size)
	})

	t.Run("rejects upload over max upload size", func(t *testing.T) {
		sa, store := newTestArea(t, Limits{MaxSize: 1024, MaxUploadSize: 4})
		_, err := sa.Stage(context.Background(), strings.NewReader("hello"))
		require.ErrorIs(t, err, balloon.ErrUploadTooLarge)
		assert.Equal(t, int64(0), sa.Size())
		assert.Equal(t, 0, store.len())
	})

	t.Run("rejects upload when area is full", func(t *testing.T) {
		sa, _ := newTestArea(t, Limits{MaxSize: 8})
		first, err := sa.Stage(context.Background(), strings.NewReader("12345"))
		require.NoError(t, err)

		_, err = sa.Stage(context.Background(), strings.NewReader("6789"))
		require.ErrorIs(t, err, balloon.ErrStagingFull)
		assert.Equal(t, int64(5), sa.Size())

		require.NoError(t, first.Release())
		_, err = sa.Stage(context.Background(), strings.NewReader("6789"))
		require.NoError(t, err)
	})

	t.Run("cancelled context discards partial spool", func(t *testing.T) {
		sa, store := newTestArea(t, Limits{MaxSize: 1 << 20})
		ctx, cancel := context.WithCancel(context.Background())
		r := &cancellingReader{data: bytes.Repeat([]byte("x"), 3*chunkSize), cancel: cancel}

		_, err := sa.Stage(ctx, r)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int64(0), sa.Size())
		assert.Equal(t, 0, store.len())
	})

	t.Run("read errors are reported", func(t *testing.T) {
		sa, _ := newTestArea(t, Limits{MaxSize: 1024})
		_, err := sa.Stage(context.Background(), io.MultiReader(strings.NewReader("ab"), errReader{}))
		require.Error(t, err)
		assert.Equal(t, int64(0), sa.Size())
	})
}

func TestFileSystemStagingArea(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHasher(BLAKE3)
	require.NoError(t, err)
	sa, err := NewFileSystemStagingArea(dir, h, &seqIDs{}, Limits{MaxSize: 1024})
	require.NoError(t, err)

	c, err := sa.Stage(context.Background(), strings.NewReader("on disk"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.Digest, "blake3:"))
	assert.Equal(t, []byte("on disk"), readAll(t, c))

	require.NoError(t, c.Release())
	_, err = c.Open()
	assert.Error(t, err)
}

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name    string
		alg     string
		prefix  string
		wantErr bool
	}{
		{name: "default is sha256", alg: "", prefix: "sha256:"},
		{name: "sha256", alg: SHA256, prefix: "sha256:"},
		{name: "blake3", alg: BLAKE3, prefix: "blake3:"},
		{name: "unknown", alg: "md5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.alg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(h.Sum([]byte("x")), tt.prefix))
		})
	}
}

type cancellingReader struct {
	data   []byte
	off    int
	cancel context.CancelFunc
}

func (r *cancellingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	if r.off >= chunkSize {
		r.cancel()
	}
	return n, nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
