package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
	"balloon-go/internal/encryption"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Vault.Type = "memory"
	cfg.Staging = config.StagingConfig{Type: "memory"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	if opts.Operation == "" {
		opts.Operation = "test"
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	a, err := NewApp(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func readAll(t *testing.T, a *App, ctx context.Context, id string) string {
	t.Helper()
	rc, err := a.Service().Open(ctx, id, 0)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", id, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %s: %v", id, err)
	}
	return string(data)
}

func TestNewApp_PutAndRead(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), Options{User: "alice"})
	ctx := balloon.WithUser(context.Background(), "alice")

	dir, err := a.Service().CreateCollection(ctx, balloon.RootID, "docs", balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	f, err := a.Service().CreateFile(ctx, dir.ID, "notes.txt", strings.NewReader("hello"), balloon.Attributes{}, balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	id, err := a.Resolve(ctx, "/docs/notes.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != f.ID {
		t.Errorf("Resolve() = %q, want %q", id, f.ID)
	}
	if got := readAll(t, a, ctx, id); got != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
}

func TestApp_Resolve(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), Options{User: "alice"})
	ctx := balloon.WithUser(context.Background(), "alice")

	dir, err := a.Service().CreateCollection(ctx, balloon.RootID, "docs", balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}

	tests := []struct {
		ref  string
		want string
	}{
		{"", balloon.RootID},
		{"/", balloon.RootID},
		{"/docs", dir.ID},
		{"/docs/", dir.ID},
		{dir.ID, dir.ID},
	}
	for _, tt := range tests {
		got, err := a.Resolve(ctx, tt.ref)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}

	if _, err := a.Resolve(ctx, "/missing"); !balloon.IsNotFound(err) {
		t.Errorf("Resolve(/missing) error = %v, want not found", err)
	}
}

func TestApp_Remove(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), Options{User: "alice"})
	ctx := balloon.WithUser(context.Background(), "alice")
	svc := a.Service()

	keep, err := svc.CreateFile(ctx, balloon.RootID, "report.txt", strings.NewReader("r"), balloon.Attributes{}, balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	scratch, err := svc.CreateFile(ctx, balloon.RootID, "report.txt.swp", strings.NewReader("s"), balloon.Attributes{}, balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	policy, err := a.Remove(ctx, keep.ID, false)
	if err != nil {
		t.Fatalf("Remove(report.txt) error = %v", err)
	}
	if policy != balloon.DeleteSoft {
		t.Errorf("Remove(report.txt) policy = %v, want soft", policy)
	}
	n, err := svc.Get(ctx, keep.ID)
	if err != nil {
		t.Fatalf("Get() after soft delete error = %v", err)
	}
	if !n.IsDeleted() {
		t.Error("report.txt should be in the trash")
	}

	policy, err = a.Remove(ctx, scratch.ID, false)
	if err != nil {
		t.Fatalf("Remove(report.txt.swp) error = %v", err)
	}
	if policy != balloon.DeleteHard {
		t.Errorf("Remove(report.txt.swp) policy = %v, want hard", policy)
	}
	if _, err := svc.Get(ctx, scratch.ID); !balloon.IsNotFound(err) {
		t.Errorf("Get() after purge error = %v, want not found", err)
	}

	if policy, err = a.Remove(ctx, keep.ID, true); err != nil || policy != balloon.DeleteHard {
		t.Errorf("Remove(force) = %v, %v; want hard, nil", policy, err)
	}
}

func TestApp_Import(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), Options{User: "alice"})
	ctx := balloon.WithUser(context.Background(), "alice")

	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.txt", "aaa")
	write("photos/b.jpg", "bb")
	write("photos/raw/c.cr2", "c")
	write("bad:dir/d.txt", "dd")
	write(".balloonignore", "*.log\n")
	write("debug.log", "ignored")

	res, err := a.Import(ctx, root, balloon.RootID, balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Files != 3 || res.Collections != 2 || res.Skipped != 2 || res.Bytes != 6 {
		t.Errorf("Import() = %+v, want 3 files, 2 collections, 2 skipped, 6 bytes", res)
	}

	id, err := a.Resolve(ctx, "/photos/raw/c.cr2")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := readAll(t, a, ctx, id); got != "c" {
		t.Errorf("content = %q, want %q", got, "c")
	}
	if _, err := a.Resolve(ctx, "/debug.log"); !balloon.IsNotFound(err) {
		t.Errorf("ignored file was imported: %v", err)
	}

	// A second run merges collections and conflicts on existing files.
	if _, err := a.Import(ctx, root, balloon.RootID, balloon.ConflictNoAction); !balloon.IsConflict(err) {
		t.Errorf("second Import() error = %v, want conflict", err)
	}
	res, err = a.Import(ctx, root, balloon.RootID, balloon.ConflictMerge)
	if err != nil {
		t.Fatalf("Import(merge) error = %v", err)
	}
	if res.Files != 3 {
		t.Errorf("Import(merge) files = %d, want 3", res.Files)
	}
}

func TestApp_Quota(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Quota = config.QuotaConfig{DefaultLimit: 10, Users: map[string]int64{"bob": 0}}
	a := newTestApp(t, cfg, Options{User: "alice"})
	alice := balloon.WithUser(context.Background(), "alice")
	bob := balloon.WithUser(context.Background(), "bob")
	svc := a.Service()

	if _, err := svc.CreateFile(alice, balloon.RootID, "a", strings.NewReader("12345678"), balloon.Attributes{}, balloon.ConflictNoAction); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	_, err := svc.CreateFile(alice, balloon.RootID, "b", strings.NewReader("123"), balloon.Attributes{}, balloon.ConflictNoAction)
	if !balloon.IsInsufficientStorage(err) {
		t.Errorf("CreateFile() over quota error = %v, want insufficient storage", err)
	}
	if got := a.quota.Used("alice"); got != 8 {
		t.Errorf("Used(alice) = %d, want 8", got)
	}

	big := bytes.Repeat([]byte("x"), 64)
	if _, err := svc.CreateFile(bob, balloon.RootID, "big", bytes.NewReader(big), balloon.Attributes{}, balloon.ConflictNoAction); err != nil {
		t.Errorf("CreateFile() for unlimited user error = %v", err)
	}
}

func TestQuota_Prime(t *testing.T) {
	cfg := newTestConfig(t)
	first := newTestApp(t, cfg, Options{})
	ctx := balloon.WithUser(context.Background(), "alice")
	svc := first.Service()

	dir, err := svc.CreateCollection(ctx, balloon.RootID, "d", balloon.ConflictNoAction)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateFile(ctx, dir.ID, "x", strings.NewReader("12345"), balloon.Attributes{}, balloon.ConflictNoAction); err != nil {
		t.Fatal(err)
	}
	gone, err := svc.CreateFile(ctx, balloon.RootID, "y", strings.NewReader("123"), balloon.Attributes{}, balloon.ConflictNoAction)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	q := NewQuota(config.QuotaConfig{DefaultLimit: 100})
	if err := q.Prime(ctx, svc); err != nil {
		t.Fatalf("Prime() error = %v", err)
	}
	if got := q.Used("alice"); got != 8 {
		t.Errorf("Used(alice) = %d, want 8 (trashed files count)", got)
	}
	if err := q.Prime(context.Background(), svc); err == nil {
		t.Error("Prime() without a user should fail")
	}
}

func TestApp_Status(t *testing.T) {
	a := newTestApp(t, newTestConfig(t), Options{User: "alice"})
	ctx := balloon.WithUser(context.Background(), "alice")

	before, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if before.VaultErr != nil {
		t.Errorf("VaultErr = %v", before.VaultErr)
	}
	if before.Cursor != "" {
		t.Errorf("Cursor = %q on an empty tree, want empty", before.Cursor)
	}

	if _, err := a.Service().CreateCollection(ctx, balloon.RootID, "d", balloon.ConflictNoAction); err != nil {
		t.Fatal(err)
	}
	after, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if after.Cursor == before.Cursor {
		t.Error("Cursor did not advance after a mutation")
	}
	if !strings.HasSuffix(after.Schema, " ok") {
		t.Errorf("Schema = %q, want an up-to-date schema", after.Schema)
	}
	if after.DatabaseType != "memory" || after.VaultType != "memory" {
		t.Errorf("Status() types = %s/%s", after.DatabaseType, after.VaultType)
	}
}

func TestApp_BackupAndGC(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestApp(t, cfg, Options{})

	dest := filepath.Join(t.TempDir(), "backup", "balloon.db")
	if err := a.BackupDatabase(dest); err != nil {
		t.Fatalf("BackupDatabase() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
	if err := a.BackupDatabase(dest); err == nil {
		t.Error("BackupDatabase() should refuse to overwrite")
	}
	if err := a.CollectGarbage(); err == nil {
		t.Error("CollectGarbage() should fail for sqlite")
	}

	cfg = newTestConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "badger"}
	b := newTestApp(t, cfg, Options{})
	if err := b.CollectGarbage(); err != nil {
		t.Errorf("CollectGarbage() error = %v", err)
	}
	if err := b.BackupDatabase(dest + ".2"); err == nil {
		t.Error("BackupDatabase() should fail for badger")
	}
}

func TestNewApp_Encryption(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Vault.Type = "filesystem"
	cfg.Vault.Path = filepath.Join(cfg.BaseDir, "vault")
	cfg.Vault.Encryption.Enabled = true

	if _, err := NewApp(context.Background(), cfg, Options{Passphrase: "secret"}); err == nil {
		t.Fatal("NewApp() without keys should fail")
	}

	if err := encryption.NewAgeCipher(cfg.Vault.Encryption).Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := NewApp(context.Background(), cfg, Options{Passphrase: "wrong"}); err == nil {
		t.Fatal("NewApp() with a wrong passphrase should fail")
	}

	a := newTestApp(t, cfg, Options{Passphrase: "secret"})
	ctx := balloon.WithUser(context.Background(), "alice")
	f, err := a.Service().CreateFile(ctx, balloon.RootID, "secret.txt", strings.NewReader("plaintext"), balloon.Attributes{}, balloon.ConflictNoAction)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if got := readAll(t, a, ctx, f.ID); got != "plaintext" {
		t.Errorf("content = %q, want %q", got, "plaintext")
	}

	// Nothing in the vault directory may contain the plaintext.
	err = filepath.Walk(cfg.Vault.Path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte("plaintext")) {
			t.Errorf("%s holds plaintext", p)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestApp_CloseLogsOutcome(t *testing.T) {
	cfg := newTestConfig(t)
	var console bytes.Buffer
	a, err := NewApp(context.Background(), cfg, Options{Operation: "put", Console: &console, Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	a.Fail(io.ErrUnexpectedEOF)
	a.Fail(nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Operation().Status != "error" {
		t.Errorf("Status = %q, want error", a.Operation().Status)
	}
	out := console.String()
	if !strings.Contains(out, "operation finished") || !strings.Contains(out, "unexpected EOF") {
		t.Errorf("console output missing outcome: %q", out)
	}
}
