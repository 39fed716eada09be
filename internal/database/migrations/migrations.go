package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// ErrNoSchema is returned by Schema.Check for a database that was never migrated.
var ErrNoSchema = errors.New("database has no schema version (needs migration)")

// Schema is the migration state of a database relative to this binary.
type Schema struct {
	// Current is 0 when no migration has run.
	Current uint
	Latest  uint
	Dirty   bool
}

// Check returns nil when the database is exactly at the latest version.
func (s Schema) Check() error {
	switch {
	case s.Current == 0 && !s.Dirty:
		return ErrNoSchema
	case s.Dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			s.Current, s.Latest, s.Latest-s.Current)
	case s.Current > s.Latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			s.Current, s.Latest)
	}
	return nil
}

func (s Schema) String() string {
	state := "ok"
	if err := s.Check(); err != nil {
		state = err.Error()
	}
	return fmt.Sprintf("v%d/%d %s", s.Current, s.Latest, state)
}

// Status reads the schema version recorded in db.
func Status(db *sql.DB) (Schema, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Schema{}, err
	}
	// m is not closed: that would close db, which the caller owns.

	var s Schema
	s.Current, s.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Schema{}, fmt.Errorf("failed to get database version: %w", err)
	}
	if s.Latest, err = latestVersion(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// CheckDBMigrationStatus verifies that the database schema is up-to-date.
func CheckDBMigrationStatus(db *sql.DB) error {
	s, err := Status(db)
	if err != nil {
		return err
	}
	return s.Check()
}

// MigrateUp runs all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// latestVersion returns the highest version among the embedded migrations.
func latestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations found: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// os.ErrNotExist marks the end of the list.
			return v, nil
		}
		v = next
	}
}
