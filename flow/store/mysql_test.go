package store

import (
	"context"
	"os"
	"testing"
)

// mysqlStore opens a MySQL-backed store against TEST_MYSQL_DSN, skipping when
// no database is available. The kv_state table is truncated so each run
// starts clean.
func mysqlStore(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	st, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.db.ExecContext(context.Background(), "TRUNCATE TABLE kv_state"); err != nil {
		t.Fatalf("truncate kv_state: %v", err)
	}
	return st
}

func TestMySQLStore(t *testing.T) {
	runStoreContract(t, mysqlStore(t))
}

func TestMySQLStoreClosed(t *testing.T) {
	st := mysqlStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	ctx := context.Background()
	if err := st.Set(ctx, "k", record{}); err != ErrClosed {
		t.Errorf("Set() after Close = %v, want ErrClosed", err)
	}
	if err := st.Append(ctx, "k", record{}); err != ErrClosed {
		t.Errorf("Append() after Close = %v, want ErrClosed", err)
	}
}
