package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/varkeep/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func str(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{TableGlobal, TablePlayer} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_MigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE global_variables (
			variable_key TEXT PRIMARY KEY,
			value TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		INSERT INTO global_variables VALUES ('gold', '10', 1, 1);
	`)
	if err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	rows, err := s.LoadGlobals(context.Background())
	if err != nil {
		t.Fatalf("LoadGlobals() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Value.String != "10" || rows[0].StrictBase.Valid {
		t.Errorf("unexpected rows after migration: %+v", rows)
	}
}

func TestOpenDSN_UnknownDriver(t *testing.T) {
	if _, err := OpenDSN("oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenDSN_PureGoDriverInMemory(t *testing.T) {
	s, err := OpenDSN(DriverModernc, ":memory:")
	if err != nil {
		t.Fatalf("OpenDSN() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	err = s.ApplyBatch(ctx, []Mutation{{Scope: ir.ScopeGlobal, Key: "gold", Value: str("1"), CreatedAt: 1, UpdatedAt: 1}})
	if err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}
	v, ok, err := s.QueryValue(ctx, `SELECT value FROM global_variables WHERE variable_key = ?`, "gold")
	if err != nil || !ok || v != "1" {
		t.Errorf("QueryValue() = %q, %v, %v; want \"1\", true, nil", v, ok, err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	got := pg.rebind(`SELECT a FROM t WHERE x = ? AND y = '?' AND z = ?`)
	want := `SELECT a FROM t WHERE x = $1 AND y = '?' AND z = $2`
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}

	lite := &Store{dialect: dialectSQLite}
	if q := `SELECT ?`; lite.rebind(q) != q {
		t.Error("sqlite queries must not be rebound")
	}
}
