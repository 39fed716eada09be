package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
	"balloon-go/internal/database"
	"balloon-go/internal/encryption"
	"balloon-go/internal/fs"
	"balloon-go/internal/metrics"
	"balloon-go/internal/staging"
	"balloon-go/internal/vault"
)

// Options carries the per-invocation inputs of NewApp.
type Options struct {
	// Operation names the CLI command being run (e.g. "put", "mv").
	Operation string
	// User is the acting user. Their quota usage is measured on startup.
	User string
	// Passphrase unlocks the vault key when encryption is enabled.
	Passphrase string
	// Registerer receives the engine metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
	// Console receives log output in addition to the log file. Nil writes
	// to the log file only.
	Console  io.Writer
	LogLevel slog.Level
}

// App is the application layer between the CLI and balloon.Service.
// It constructs all dependencies from config and owns their lifecycle.
type App struct {
	cfg     *config.Config
	db      balloon.Database
	vault   balloon.Vault
	staging *staging.StagingArea
	bus     *balloon.Bus
	quota   *Quota
	metrics *metrics.Listener
	service *balloon.Service
	op      *Operation
	logger  *slog.Logger
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{cfg: cfg, op: NewOperation(opts.Operation, time.Now())}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(cfg.BaseDir, "log")
	}
	var err error
	a.logger, a.logFile, err = newLogger(logDir, a.op.ID, opts.Console, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: a.logger}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if m, isSQL := a.db.(*database.SQLiteDatabase); isSQL {
		if err := m.CheckMigrations(); err != nil {
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
	}

	var sealer vault.Sealer
	if cfg.Vault.Encryption.Enabled {
		keyring, err := unlockKeyring(cfg.Vault.Encryption, opts.Passphrase)
		if err != nil {
			return nil, err
		}
		sealer = keyring
	}
	a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vault, sealer)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if err := a.vault.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("vault not usable: %w", err)
	}

	a.staging, err = staging.NewStagingAreaFromConfig(cfg.Staging, cfg.Engine.Digest, balloon.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	registry := opts.Registerer
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	a.bus = balloon.NewBus()
	a.metrics = metrics.NewListener(registry)
	a.metrics.Attach(a.bus)

	a.quota = NewQuota(cfg.Quota)
	a.service = balloon.NewService(a.db, a.staging, a.vault, logger, balloon.RealClock{}, balloon.UUIDGenerator{},
		balloon.Options{
			MaxVersions:   cfg.Engine.MaxVersions,
			DeltaPageSize: cfg.Engine.DeltaPageSize,
			Quota:         a.quota,
			Events:        a.bus,
			TempFiles:     fs.NewTempFileMatcher(cfg.Engine.TempPatterns),
		})

	if opts.User != "" && cfg.Quota.Limit(opts.User) > 0 {
		if err := a.quota.Prime(balloon.WithUser(ctx, opts.User), a.service); err != nil {
			return nil, fmt.Errorf("measuring quota usage: %w", err)
		}
	}

	a.logger.Debug("operation started", "operation", a.op.Name, "user", opts.User)
	ok = true
	return a, nil
}

func unlockKeyring(cfg config.EncryptionConfig, passphrase string) (*encryption.Keyring, error) {
	cipher := encryption.NewAgeCipher(cfg)
	if !cipher.IsConfigured() {
		return nil, fmt.Errorf("vault encryption is enabled but no key pair exists; run 'balloon keys init'")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("vault encryption is enabled: a passphrase is required")
	}
	keyring, err := cipher.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking vault key: %w", err)
	}
	return keyring, nil
}

// Service returns the wired engine.
func (a *App) Service() *balloon.Service { return a.service }

// Bus returns the event bus the service publishes on.
func (a *App) Bus() *balloon.Bus { return a.bus }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Operation returns the operation record of this invocation.
func (a *App) Operation() *Operation { return a.op }

// Fail records err as the outcome of the operation and returns it.
func (a *App) Fail(err error) error {
	a.op.Fail(err)
	return err
}

// Resolve turns a CLI node reference into a node id. References starting
// with '/' are paths from the acting user's root; "/" itself is the root.
// Anything else is taken as a node id.
func (a *App) Resolve(ctx context.Context, ref string) (string, error) {
	if strings.Trim(ref, "/") == "" {
		return balloon.RootID, nil
	}
	if strings.HasPrefix(ref, "/") {
		n, err := a.service.Lookup(ctx, ref)
		if err != nil {
			return "", err
		}
		return n.ID, nil
	}
	n, err := a.service.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// Remove deletes a node. Recognized temporary files, and every node when
// force is set, are purged; everything else goes to the trash.
func (a *App) Remove(ctx context.Context, id string, force bool) (balloon.DeletionPolicy, error) {
	n, err := a.service.Get(ctx, id)
	if err != nil {
		return balloon.DeleteSoft, err
	}
	policy := a.service.DeletionPolicyFor(n)
	if force {
		policy = balloon.DeleteHard
	}
	return policy, a.service.DeleteWithPolicy(ctx, id, policy)
}

// Status is a snapshot of the engine and its backends.
type Status struct {
	Operation    string
	DatabaseType string
	DatabasePath string
	// Schema is empty for databases without migrations.
	Schema       string
	VaultType    string
	Encrypted    bool
	VaultErr     error
	StagingBytes int64
	Cursor       string
	QuotaUsed    int64
	QuotaLimit   int64
}

// Status reports backend health and the acting user's position in the log.
func (a *App) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Operation:    a.op.ID,
		DatabaseType: a.cfg.Database.Type,
		DatabasePath: a.cfg.Database.Path,
		VaultType:    a.cfg.Vault.Type,
		Encrypted:    a.cfg.Vault.Encryption.Enabled,
		VaultErr:     a.vault.ValidateSetup(ctx),
		StagingBytes: a.staging.Size(),
	}
	if db, ok := a.db.(*database.SQLiteDatabase); ok {
		schema, err := db.Schema()
		if err != nil {
			return nil, err
		}
		st.Schema = schema.String()
	}
	cursor, err := a.service.LatestCursor(ctx)
	if err != nil {
		return nil, err
	}
	st.Cursor = cursor
	if user, ok := balloon.UserFrom(ctx); ok {
		st.QuotaUsed = a.quota.Used(user)
		st.QuotaLimit = a.cfg.Quota.Limit(user)
	}
	return st, nil
}

// BackupDatabase writes a consistent copy of a SQLite database to dest.
func (a *App) BackupDatabase(dest string) error {
	db, ok := a.db.(*database.SQLiteDatabase)
	if !ok {
		return fmt.Errorf("backups are not supported for %s databases", a.cfg.Database.Type)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup destination %s already exists", dest)
	}
	return db.BackupTo(dest)
}

// CollectGarbage reclaims space in a badger value log.
func (a *App) CollectGarbage() error {
	db, ok := a.db.(*database.BadgerDatabase)
	if !ok {
		return fmt.Errorf("garbage collection is not supported for %s databases", a.cfg.Database.Type)
	}
	return db.RunGC()
}

// Close logs the outcome of the operation and closes all resources.
func (a *App) Close() error {
	if a.op.Err != nil {
		a.logger.Error("operation finished", "operation", a.op.Name, "status", a.op.Status, "error", a.op.Err)
	} else {
		a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
			"duration", time.Since(a.op.Started).Round(time.Millisecond))
	}
	return a.release()
}

func (a *App) release() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		a.db = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
		a.logFile = nil
	}
	return errors.Join(errs...)
}
