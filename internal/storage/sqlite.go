// Package storage opens the SQLite database backing the run journal.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalFilesystem(path, "journal database"); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Background tasks record concurrently; one connection keeps writes serial.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS command_runs (
  id          TEXT PRIMARY KEY,
  command     TEXT NOT NULL,
  mode        TEXT NOT NULL,
  status      TEXT NOT NULL,
  error       TEXT,
  doc_digest  TEXT,
  started_at  TEXT NOT NULL,
  finished_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS command_runs_started_at_idx ON command_runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS command_runs_command_idx ON command_runs(command);`,
		`CREATE INDEX IF NOT EXISTS command_runs_doc_digest_idx ON command_runs(doc_digest);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
