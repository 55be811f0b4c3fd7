// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded, want error")
	}
}

func TestTakePutRoundTrip(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "pool.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (v TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO t (v) VALUES ('x')", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var count int
	err = sqlitex.ExecuteTransient(conn, "SELECT COUNT(*) FROM t", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestOnConnectError(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "pool.db"),
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, "THIS IS NOT SQL", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	// Connections are prepared lazily; the OnConnect failure surfaces
	// on first Take.
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take succeeded despite failing OnConnect")
	}
}
