// Package dbopen opens the SQLite file behind the action journal.
//
// Pragmas travel in the DSN, so every connection the pool opens gets them,
// not only the first one:
//
//	db, err := dbopen.Open("var/triage/journal.db", observability.Schema)
//
// Tests use a single-connection in-memory database:
//
//	db := dbopen.Memory(t, observability.Schema)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// BusyTimeoutMs is how long a connection waits on a locked database before
// returning SQLITE_BUSY.
const BusyTimeoutMs = 10_000

var connPragmas = []string{
	fmt.Sprintf("busy_timeout(%d)", BusyTimeoutMs),
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// DSN builds the driver data source name for path with the connection
// pragmas attached.
func DSN(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// Open opens the database at path, creating its directory, and applies
// each schema in order. Schemas must be idempotent: they run on every open.
func Open(path string, schemas ...string) (*sql.DB, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create dir for %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == memoryPath {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	for i, s := range schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema %d on %s: %w", i, path, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	return db, nil
}

// Memory opens an in-memory database carrying schemas and closes it when
// the test ends.
func Memory(t testing.TB, schemas ...string) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, schemas...)
	if err != nil {
		t.Fatalf("dbopen.Memory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
