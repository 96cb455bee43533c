// Package store provides the sqlite-backed state database for sketchd.
//
// The database holds two kinds of state:
//   - kv: JSON documents by key (board selection, last selected board per port)
//   - sync_runs: the journal of finished sketch synchronizations
//
// The database runs embedded with WAL so the daemon and CLI commands can read
// it concurrently.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the sqlite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path and
// initializes the schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("~/.sketchd/state.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
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

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// Enable WAL mode for concurrent reads
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
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

// InitSchema creates the tables if they don't exist. Safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		sketch TEXT NOT NULL,
		dir TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		pulled INTEGER NOT NULL DEFAULT 0,
		pushed INTEGER NOT NULL DEFAULT 0,
		deleted_local INTEGER NOT NULL DEFAULT 0,
		deleted_remote INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_sketch ON sync_runs(sketch, started_at DESC);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// GetData decodes the JSON document stored under key into dest and reports
// whether the key exists.
func (s *Store) GetData(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetData stores value under key as JSON. A nil value deletes the key.
func (s *Store) SetData(ctx context.Context, key string, value any) error {
	if isNil(value) {
		return s.Delete(ctx, key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return s.Delete(ctx, key)
	}

	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, key, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys with the given prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
