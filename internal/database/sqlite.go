package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"balloon-go/internal/balloon"
	"balloon-go/internal/codec"
	"balloon-go/internal/database/migrations"
)

const busyTimeout = 5 * time.Second

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path, or an in-memory database for
// ":memory:" or an empty path, and migrates the schema to the latest version.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection.
// Write transactions start with BEGIN IMMEDIATE so two writers serialize on
// the database lock instead of failing at commit.
func OpenConnection(path string) (*sql.DB, error) {
	params := fmt.Sprintf("_txlock=immediate&_foreign_keys=on&_busy_timeout=%d", busyTimeout.Milliseconds())
	memory := isMemoryPath(path)
	if memory {
		path = ":memory:"
	} else {
		params += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", path+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is its own database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// View runs fn in a read-only transaction.
func (s *SQLiteDatabase) View(ctx context.Context, fn func(tx balloon.Tx) error) error {
	return s.run(ctx, true, fn)
}

// Update runs fn in a read-write transaction.
func (s *SQLiteDatabase) Update(ctx context.Context, fn func(tx balloon.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLiteDatabase) run(ctx context.Context, readOnly bool, fn func(tx balloon.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", mapError(err))
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Schema reports the migration state of the database.
func (s *SQLiteDatabase) Schema() (migrations.Schema, error) {
	return migrations.Status(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// mapError turns lost races into ErrRevisionConflict. A unique index
// violation means another writer claimed the same name or key first.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch {
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", balloon.ErrRevisionConflict, err)
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", balloon.ErrRevisionConflict, err)
	}
	return err
}

type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const nodeColumns = `id, kind, name, parent_id, owner_id, created_at, changed_at, deleted_at,
	readonly, share, share_root_id, meta, content_hash, size, mime_type, version, blob_ref, revision`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*balloon.Node, error) {
	var (
		n                balloon.Node
		created, changed int64
		deletedAt        sql.NullInt64
		meta             []byte
	)
	err := row.Scan(&n.ID, &n.Kind, &n.Name, &n.ParentID, &n.OwnerID, &created, &changed, &deletedAt,
		&n.Readonly, &n.Share, &n.ShareRootID, &meta, &n.ContentHash, &n.Size, &n.MimeType,
		&n.Version, &n.BlobRef, &n.Revision)
	if err != nil {
		return nil, err
	}
	n.Created = fromNanos(created)
	n.Changed = fromNanos(changed)
	if deletedAt.Valid {
		t := fromNanos(deletedAt.Int64)
		n.DeletedAt = &t
	}
	if len(meta) > 0 {
		if err := codec.Unmarshal(meta, &n.Meta); err != nil {
			return nil, fmt.Errorf("decoding meta of node %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func (t *sqliteTx) GetNode(id string) (*balloon.Node, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting node %s: %w", id, err)
	}
	return n, nil
}

func (t *sqliteTx) FindChild(ownerID, parentID, name string) (*balloon.Node, error) {
	query, args := childScope(ownerID, parentID)
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE `+query+` AND name = ? AND deleted_at IS NULL`,
		append(args, name)...)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding child %q: %w", name, err)
	}
	return n, nil
}

func (t *sqliteTx) ListChildren(ownerID, parentID string, includeDeleted bool) ([]*balloon.Node, error) {
	query, args := childScope(ownerID, parentID)
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE `+query+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	defer rows.Close()

	var nodes []*balloon.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning child: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// childScope selects the children of parentID, or ownerID's root nodes.
func childScope(ownerID, parentID string) (string, []any) {
	if parentID == balloon.RootID {
		return `parent_id = '' AND owner_id = ?`, []any{ownerID}
	}
	return `parent_id = ?`, []any{parentID}
}

func (t *sqliteTx) InsertNode(n *balloon.Node) error {
	meta, err := encodeMeta(n.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		n.ID, n.Kind, n.Name, n.ParentID, n.OwnerID, toNanos(n.Created), toNanos(n.Changed),
		nullNanos(n.DeletedAt), n.Readonly, n.Share, n.ShareRootID, meta, n.ContentHash, n.Size,
		n.MimeType, n.Version, n.BlobRef)
	if err != nil {
		return fmt.Errorf("inserting node %s: %w", n.ID, mapError(err))
	}
	n.Revision = 1
	return nil
}

func (t *sqliteTx) UpdateNode(n *balloon.Node) error {
	meta, err := encodeMeta(n.Meta)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `UPDATE nodes SET
		kind = ?, name = ?, parent_id = ?, owner_id = ?, created_at = ?, changed_at = ?,
		deleted_at = ?, readonly = ?, share = ?, share_root_id = ?, meta = ?, content_hash = ?,
		size = ?, mime_type = ?, version = ?, blob_ref = ?, revision = revision + 1
		WHERE id = ? AND revision = ?`,
		n.Kind, n.Name, n.ParentID, n.OwnerID, toNanos(n.Created), toNanos(n.Changed),
		nullNanos(n.DeletedAt), n.Readonly, n.Share, n.ShareRootID, meta, n.ContentHash,
		n.Size, n.MimeType, n.Version, n.BlobRef, n.ID, n.Revision)
	if err != nil {
		return fmt.Errorf("updating node %s: %w", n.ID, mapError(err))
	}
	if err := expectOneRow(res, "node", n.ID); err != nil {
		return err
	}
	n.Revision++
	return nil
}

func (t *sqliteTx) DeleteNode(id string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting node %s: %w", id, err)
	}
	return nil
}

func (t *sqliteTx) ListVersions(nodeID string) ([]*balloon.VersionRecord, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT version, changed_at, user_id, type, blob_ref, size, mime_type, origin
		FROM versions WHERE node_id = ? ORDER BY version`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", nodeID, err)
	}
	defer rows.Close()

	var records []*balloon.VersionRecord
	for rows.Next() {
		var (
			rec     balloon.VersionRecord
			changed int64
		)
		if err := rows.Scan(&rec.Version, &changed, &rec.UserID, &rec.Type, &rec.BlobRef,
			&rec.Size, &rec.MimeType, &rec.Origin); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		rec.Changed = fromNanos(changed)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (t *sqliteTx) InsertVersion(nodeID string, rec *balloon.VersionRecord) error {
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO versions
		(node_id, version, changed_at, user_id, type, blob_ref, size, mime_type, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nodeID, rec.Version, toNanos(rec.Changed), rec.UserID, rec.Type, rec.BlobRef,
		rec.Size, rec.MimeType, rec.Origin)
	if err != nil {
		return fmt.Errorf("inserting version %d of %s: %w", rec.Version, nodeID, mapError(err))
	}
	return nil
}

func (t *sqliteTx) DeleteVersion(nodeID string, version int) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM versions WHERE node_id = ? AND version = ?`, nodeID, version)
	if err != nil {
		return fmt.Errorf("deleting version %d of %s: %w", version, nodeID, err)
	}
	return nil
}

func (t *sqliteTx) DeleteVersions(nodeID string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM versions WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("deleting versions of %s: %w", nodeID, err)
	}
	return nil
}

func (t *sqliteTx) GetBlob(digest string) (*balloon.Blob, error) {
	var (
		b       balloon.Blob
		refs    []byte
		created int64
	)
	err := t.tx.QueryRowContext(t.ctx, `SELECT digest, vault_id, size, refs, created_at, revision
		FROM blobs WHERE digest = ?`, digest).
		Scan(&b.Digest, &b.VaultID, &b.Size, &refs, &created, &b.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", digest, err)
	}
	if err := codec.Unmarshal(refs, &b.Refs); err != nil {
		return nil, fmt.Errorf("decoding refs of blob %s: %w", digest, err)
	}
	b.Created = fromNanos(created)
	return &b, nil
}

func (t *sqliteTx) InsertBlob(b *balloon.Blob) error {
	refs, err := codec.Marshal(b.Refs)
	if err != nil {
		return fmt.Errorf("encoding refs: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO blobs (digest, vault_id, size, refs, created_at, revision)
		VALUES (?, ?, ?, ?, ?, 1)`, b.Digest, b.VaultID, b.Size, refs, toNanos(b.Created))
	if err != nil {
		return fmt.Errorf("inserting blob %s: %w", b.Digest, mapError(err))
	}
	b.Revision = 1
	return nil
}

func (t *sqliteTx) UpdateBlob(b *balloon.Blob) error {
	refs, err := codec.Marshal(b.Refs)
	if err != nil {
		return fmt.Errorf("encoding refs: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx, `UPDATE blobs SET vault_id = ?, size = ?, refs = ?, revision = revision + 1
		WHERE digest = ? AND revision = ?`, b.VaultID, b.Size, refs, b.Digest, b.Revision)
	if err != nil {
		return fmt.Errorf("updating blob %s: %w", b.Digest, mapError(err))
	}
	if err := expectOneRow(res, "blob", b.Digest); err != nil {
		return err
	}
	b.Revision++
	return nil
}

func (t *sqliteTx) DeleteBlob(b *balloon.Blob) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM blobs WHERE digest = ? AND revision = ?`, b.Digest, b.Revision)
	if err != nil {
		return fmt.Errorf("deleting blob %s: %w", b.Digest, err)
	}
	return expectOneRow(res, "blob", b.Digest)
}

func (t *sqliteTx) AppendDelta(e *balloon.DeltaEntry) error {
	res, err := t.tx.ExecContext(t.ctx, `INSERT INTO delta (node_id, owner_id, path, deleted, directory, time)
		VALUES (?, ?, ?, ?, ?, ?)`, e.NodeID, e.OwnerID, e.Path, e.Deleted, e.Directory, toNanos(e.Time))
	if err != nil {
		return fmt.Errorf("appending delta entry: %w", mapError(err))
	}
	cursor, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading delta cursor: %w", err)
	}
	e.Cursor = cursor
	return nil
}

func (t *sqliteTx) ListDelta(ownerID string, after int64, limit int) ([]*balloon.DeltaEntry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT cursor, node_id, owner_id, path, deleted, directory, time
		FROM delta WHERE owner_id = ? AND cursor > ? ORDER BY cursor LIMIT ?`, ownerID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("listing delta: %w", err)
	}
	defer rows.Close()

	var entries []*balloon.DeltaEntry
	for rows.Next() {
		var (
			e  balloon.DeltaEntry
			at int64
		)
		if err := rows.Scan(&e.Cursor, &e.NodeID, &e.OwnerID, &e.Path, &e.Deleted, &e.Directory, &at); err != nil {
			return nil, fmt.Errorf("scanning delta entry: %w", err)
		}
		e.Time = fromNanos(at)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (t *sqliteTx) LatestDelta(ownerID string) (int64, error) {
	var cursor int64
	err := t.tx.QueryRowContext(t.ctx, `SELECT COALESCE(MAX(cursor), 0) FROM delta WHERE owner_id = ?`, ownerID).
		Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("reading latest delta cursor: %w", err)
	}
	return cursor, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s %s update: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, balloon.ErrRevisionConflict)
	}
	return nil
}

func encodeMeta(m balloon.Meta) ([]byte, error) {
	if m.Description == "" && m.Color == "" && len(m.Tags) == 0 {
		return nil, nil
	}
	data, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}
	return data, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var (
	_ balloon.Database = (*SQLiteDatabase)(nil)
	_ balloon.Tx       = (*sqliteTx)(nil)
)

// isMemoryPath reports whether path selects a private in-memory database.
func isMemoryPath(path string) bool {
	return path == "" || strings.EqualFold(path, ":memory:")
}
