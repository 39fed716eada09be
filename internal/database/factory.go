package database

import (
	"fmt"
	"os"
	"path/filepath"

	"balloon-go/internal/balloon"
	"balloon-go/internal/config"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, logger balloon.Logger) (balloon.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for sqlite database")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return openSQLite(cfg.Path)
	case "memory":
		return openSQLite(":memory:")
	case "badger":
		if cfg.Path != "" {
			if err := os.MkdirAll(cfg.Path, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err := NewBadgerDatabase(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func openSQLite(path string) (balloon.Database, error) {
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}
