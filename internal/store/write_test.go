package store

import (
	"context"
	"testing"

	"github.com/roach88/varkeep/internal/ir"
)

func TestApplyBatch_UpsertKeepsCreatedAt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := Mutation{
		Scope: ir.ScopePlayer, Identity: "alice", Key: "score",
		Value: str("5"), StrictBase: str("15"), CreatedAt: 100, UpdatedAt: 100,
	}
	if err := s.ApplyBatch(ctx, []Mutation{first}); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}

	second := first
	second.Value = str("7")
	second.CreatedAt = 999
	second.UpdatedAt = 200
	if err := s.ApplyBatch(ctx, []Mutation{second}); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}

	rows, err := s.LoadIdentity(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadIdentity() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Value.String != "7" || r.StrictBase.String != "15" {
		t.Errorf("value/base = %q/%q, want 7/15", r.Value.String, r.StrictBase.String)
	}
	if r.CreatedAt != 100 || r.UpdatedAt != 200 {
		t.Errorf("created/updated = %d/%d, want 100/200", r.CreatedAt, r.UpdatedAt)
	}
}

func TestApplyBatch_Delete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	muts := []Mutation{
		{Scope: ir.ScopeGlobal, Key: "gold", Value: str("50"), CreatedAt: 1, UpdatedAt: 1},
		{Scope: ir.ScopePlayer, Identity: "bob", Key: "coins", Value: str("3"), CreatedAt: 1, UpdatedAt: 1},
	}
	if err := s.ApplyBatch(ctx, muts); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}

	dels := []Mutation{
		{Scope: ir.ScopeGlobal, Key: "gold", Delete: true},
		{Scope: ir.ScopePlayer, Identity: "bob", Key: "coins", Delete: true},
		// Deleting a missing row is a no-op.
		{Scope: ir.ScopePlayer, Identity: "bob", Key: "never", Delete: true},
	}
	if err := s.ApplyBatch(ctx, dels); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}

	globals, _ := s.LoadGlobals(ctx)
	players, _ := s.LoadIdentity(ctx, "bob")
	if len(globals) != 0 || len(players) != 0 {
		t.Errorf("rows left after delete: %d globals, %d players", len(globals), len(players))
	}
}

func TestApplyBatch_NullValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m := Mutation{Scope: ir.ScopeGlobal, Key: "base", StrictBase: str("42"), CreatedAt: 1, UpdatedAt: 1}
	if err := s.ApplyBatch(ctx, []Mutation{m}); err != nil {
		t.Fatalf("ApplyBatch() failed: %v", err)
	}

	_, ok, err := s.QueryValue(ctx, `SELECT value FROM global_variables WHERE variable_key = ?`, "base")
	if err != nil {
		t.Fatalf("QueryValue() failed: %v", err)
	}
	if ok {
		t.Error("NULL value should report false")
	}
}

func TestApplyBatch_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(`CREATE TRIGGER reject_poison BEFORE INSERT ON global_variables
		WHEN NEW.variable_key = 'poison' BEGIN SELECT RAISE(ABORT, 'poisoned'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	muts := []Mutation{
		{Scope: ir.ScopeGlobal, Key: "ok", Value: str("1"), CreatedAt: 1, UpdatedAt: 1},
		{Scope: ir.ScopeGlobal, Key: "poison", Value: str("1"), CreatedAt: 1, UpdatedAt: 1},
	}
	if err := s.ApplyBatch(ctx, muts); err == nil {
		t.Fatal("expected batch to fail")
	}

	globals, _ := s.LoadGlobals(ctx)
	if len(globals) != 0 {
		t.Errorf("partial batch was committed: %+v", globals)
	}
}

func TestApplyBatch_Empty(t *testing.T) {
	s := createTestStore(t)
	if err := s.ApplyBatch(context.Background(), nil); err != nil {
		t.Errorf("ApplyBatch(nil) = %v", err)
	}
}

func TestUpsert_Generic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keys := []Column{{Name: "variable_key", Value: "motd"}}
	vals := []Column{
		{Name: "value", Value: "hello"},
		{Name: "created_at", Value: int64(1), InsertOnly: true},
		{Name: "updated_at", Value: int64(1)},
	}
	if err := s.Upsert(ctx, TableGlobal, keys, vals); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	vals[0].Value = "bye"
	if err := s.Upsert(ctx, TableGlobal, keys, vals); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	v, ok, err := s.QueryValue(ctx, `SELECT value FROM global_variables WHERE variable_key = ?`, "motd")
	if err != nil || !ok || v != "bye" {
		t.Errorf("QueryValue() = %q, %v, %v", v, ok, err)
	}
}

func TestUpsert_RejectsBadIdentifiers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, "global_variables; DROP TABLE x", []Column{{Name: "variable_key", Value: "a"}}, nil)
	if err == nil {
		t.Error("expected invalid table name error")
	}
	err = s.Upsert(ctx, TableGlobal, []Column{{Name: "variable_key--", Value: "a"}}, nil)
	if err == nil {
		t.Error("expected invalid column name error")
	}
	err = s.Upsert(ctx, TableGlobal, nil, nil)
	if err == nil {
		t.Error("expected missing key columns error")
	}
}

func TestExecuteUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		m := Mutation{Scope: ir.ScopePlayer, Identity: id, Key: "score", Value: str("1"), CreatedAt: 1, UpdatedAt: 1}
		if err := s.ApplyBatch(ctx, []Mutation{m}); err != nil {
			t.Fatalf("ApplyBatch() failed: %v", err)
		}
	}

	n, err := s.ExecuteUpdate(ctx, `UPDATE player_variables SET value = ? WHERE variable_key = ?`, "0", "score")
	if err != nil {
		t.Fatalf("ExecuteUpdate() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d, want 2", n)
	}

	_, ok, err := s.QueryValue(ctx, `SELECT value FROM player_variables WHERE identity_id = ?`, "nobody")
	if err != nil || ok {
		t.Errorf("missing row: ok=%v err=%v", ok, err)
	}
}
