package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/triage/dbopen"
)

const entries = `CREATE TABLE IF NOT EXISTS entries (id TEXT PRIMARY KEY, action TEXT NOT NULL);`

func TestOpen_EveryConnectionGetsPragmas(t *testing.T) {
	// WHAT: Two connections held at once both carry the busy timeout and
	// the file database runs in WAL mode.
	// WHY: A pragma run once through db.Exec only reaches one pooled
	// connection; concurrent journal writes need it on all of them.
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := dbopen.Open(path, entries)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	c1, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	for i, c := range []*sql.Conn{c1, c2} {
		var bt int
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&bt); err != nil {
			t.Fatal(err)
		}
		if bt != dbopen.BusyTimeoutMs {
			t.Fatalf("conn %d: busy_timeout = %d, want %d", i, bt, dbopen.BusyTimeoutMs)
		}
	}

	var mode string
	if err := c1.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_CreatesDirAndReopensWithSchema(t *testing.T) {
	// WHAT: A journal path in a missing directory is created, and opening
	// it again re-runs the schema without losing rows.
	path := filepath.Join(t.TempDir(), "var", "triage", "journal.db")
	db, err := dbopen.Open(path, entries)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO entries (id, action) VALUES (?, ?)`, "act_1", "stack_trace"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}

	db, err = dbopen.Open(path, entries)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()
	var action string
	if err := db.QueryRow(`SELECT action FROM entries WHERE id = 'act_1'`).Scan(&action); err != nil {
		t.Fatal(err)
	}
	if action != "stack_trace" {
		t.Fatalf("action = %q, want stack_trace", action)
	}
}

func TestOpen_BadSchemaFails(t *testing.T) {
	if _, err := dbopen.Open(filepath.Join(t.TempDir(), "j.db"), "CREATE TABLE ("); err == nil {
		t.Fatal("expected a schema error")
	}
}

func TestMemory_SharesOneDatabase(t *testing.T) {
	// WHAT: Writes and reads on the in-memory database see the same data.
	// WHY: Each :memory: connection is a separate database.
	db := dbopen.Memory(t, entries)
	ctx := context.Background()
	for i := range 3 {
		if _, err := dbopen.Exec(ctx, db, `INSERT INTO entries (id, action) VALUES (?, 'replay_link')`, fmt.Sprintf("act_%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestExec_NonBusyErrorReturnsAtOnce(t *testing.T) {
	db := dbopen.Memory(t, entries)
	ctx := context.Background()
	if _, err := dbopen.Exec(ctx, db, `INSERT INTO entries (id, action) VALUES ('a', 'x')`); err != nil {
		t.Fatal(err)
	}
	_, err := dbopen.Exec(ctx, db, `INSERT INTO entries (id, action) VALUES ('a', 'x')`)
	if err == nil {
		t.Fatal("expected a constraint error")
	}
	if dbopen.IsBusy(err) {
		t.Fatalf("constraint error classified as busy: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: entries"), false},
		{fmt.Errorf("journal: %w", errors.New("database is locked")), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
