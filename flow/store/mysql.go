package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for production deployments where suspended runs must survive both
// process restarts and host failures, and where several engine processes
// share one store. Append uses SELECT ... FOR UPDATE so the process-wide
// pending-approvals list never loses concurrent updates.
//
// The DSN format is the go-sql-driver one, e.g.
//
//	user:password@tcp(localhost:3306)/tripflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store, creating the schema if needed.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_state (
			kv_key VARCHAR(255) NOT NULL PRIMARY KEY,
			value JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv_state table: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Set implements the Store interface.
func (m *MySQLStore) Set(ctx context.Context, key string, value any) error {
	if err := m.check(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO kv_state (kv_key, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get implements the Store interface.
func (m *MySQLStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}
	var raw string
	err := m.db.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE kv_key = ?", key).Scan(&raw)
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
func (m *MySQLStore) Delete(ctx context.Context, key string) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM kv_state WHERE kv_key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Append implements the Store interface. The existing row is locked with
// SELECT ... FOR UPDATE for the duration of the transaction, so concurrent
// appends from different engine processes serialize instead of losing
// updates.
func (m *MySQLStore) Append(ctx context.Context, key string, value any) error {
	if err := m.check(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	defer tx.Rollback()

	list := []json.RawMessage{}
	var existing string
	err = tx.QueryRowContext(ctx, "SELECT value FROM kv_state WHERE kv_key = ? FOR UPDATE", key).Scan(&existing)
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
		INSERT INTO kv_state (kv_key, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		key, string(encoded)); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return tx.Commit()
}

// Close closes the database connection pool. Operations after Close return
// ErrClosed.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLStore) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}
