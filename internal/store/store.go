// Package store provides the SQLite-backed entity accessor for tend.
//
// All application state lives in a single embedded SQLite database opened in
// WAL mode for concurrent reads: the entity stores (goals, tasks, training
// sessions, meals, finance snapshots), the sync issue ledger, and the bounded
// sync run history.
//
// Issue dedupe is enforced at the schema level: a partial unique index over
// (layer, entity_type, entity_id, linked_entity_id) restricted to unresolved
// rows makes double-insertion of the same unresolved identity key impossible,
// even when a background run rediscovers an issue the UI is resolving
// concurrently.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a requested record does not exist, or when a
// mutation targets a record that has been deleted out from under it.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads. If
// it doesn't exist it is created; call InitSchema before first use. The
// caller MUST call Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		horizon TEXT NOT NULL,
		aspect TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		parent_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		aspect TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		defer_count INTEGER NOT NULL DEFAULT 0,
		weekly_goal_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		aspect TEXT NOT NULL DEFAULT '',
		linked_goal_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		aspect TEXT NOT NULL DEFAULT '',
		linked_goal_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS finance_snapshots (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		linked_goal_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_issues (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		entity_title TEXT NOT NULL DEFAULT '',
		linked_entity_type TEXT NOT NULL DEFAULT '',
		linked_entity_id TEXT NOT NULL DEFAULT '',
		suggested_goal_id TEXT NOT NULL DEFAULT '',
		suggested_goal_title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		suggestion TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		layer INTEGER NOT NULL,
		detected_at TEXT NOT NULL,
		resolved_at TEXT,
		resolution TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		run_type TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		result TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);
	CREATE INDEX IF NOT EXISTS idx_goals_horizon ON goals(horizon);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_weekly_goal ON tasks(weekly_goal_id);
	CREATE INDEX IF NOT EXISTS idx_issues_resolved ON sync_issues(resolved_at);
	CREATE INDEX IF NOT EXISTS idx_issues_layer ON sync_issues(layer);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);

	-- One unresolved issue per identity key. Rediscovery under the same key
	-- becomes a no-op insert instead of a duplicate.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_identity
	    ON sync_issues(layer, entity_type, entity_id, linked_entity_id)
	    WHERE resolved_at IS NULL;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
