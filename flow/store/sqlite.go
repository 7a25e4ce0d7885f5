package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps all keys in a single-file database, which makes suspended runs
// survive process restarts with zero operational setup. Designed for:
//   - local and single-host deployments
//   - development with durable state ("./tripflow.db")
//   - prototyping before moving to MySQL
//
// The store uses WAL mode for concurrent reads and a single writer
// connection, which is how SQLite wants to be used. Append runs inside a
// transaction so the read-modify-write is atomic.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for an in-memory database in tests.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./tripflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv_state table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Set implements the Store interface.
func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	if err := s.check(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get implements the Store interface.
func (s *SQLiteStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// Delete implements the Store interface.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Append implements the Store interface. The read-modify-write runs in one
// transaction; with the single writer connection this is atomic against
// concurrent appends.
func (s *SQLiteStore) Append(ctx context.Context, key string, value any) error {
	if err := s.check(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	defer tx.Rollback()

	list := []json.RawMessage{}
	var existing string
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE key = ?", key).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First append creates the list.
	case err != nil:
		return fmt.Errorf("append %s: %w", key, err)
	default:
		if err := json.Unmarshal([]byte(existing), &list); err != nil {
			return fmt.Errorf("append %s: existing value is not a list: %w", key, err)
		}
	}

	list = append(list, raw)
	encoded, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(encoded)); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return tx.Commit()
}

// Close closes the database connection. Operations after Close return
// ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
