package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/varkeep/internal/ir"
)

// Table names.
const (
	TableGlobal = "global_variables"
	TablePlayer = "player_variables"
)

// identPattern restricts table and column names passed to Upsert.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column is one named value of an upsert.
type Column struct {
	Name  string
	Value any

	// InsertOnly columns are written when the row is created and kept on
	// conflict (created_at).
	InsertOnly bool
}

// Mutation is one idempotent change to a variable row.
type Mutation struct {
	Scope    ir.Scope
	Identity string
	Key      string

	// Delete removes the row; the value fields are ignored.
	Delete bool

	Value      sql.NullString
	StrictBase sql.NullString
	CreatedAt  int64 // unix ms
	UpdatedAt  int64 // unix ms
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert inserts a row or updates the value columns of the row matching
// keyCols. Uses ON CONFLICT DO UPDATE so repeated writes are idempotent.
func (s *Store) Upsert(ctx context.Context, table string, keyCols, valueCols []Column) error {
	if err := s.upsert(ctx, s.db, table, keyCols, valueCols); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, ex execer, table string, keyCols, valueCols []Column) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if len(keyCols) == 0 {
		return fmt.Errorf("no key columns")
	}

	all := make([]Column, 0, len(keyCols)+len(valueCols))
	all = append(all, keyCols...)
	all = append(all, valueCols...)

	names := make([]string, len(all))
	marks := make([]string, len(all))
	args := make([]any, len(all))
	for i, c := range all {
		if !identPattern.MatchString(c.Name) {
			return fmt.Errorf("invalid column name %q", c.Name)
		}
		names[i] = c.Name
		marks[i] = "?"
		args[i] = c.Value
	}

	keyNames := make([]string, len(keyCols))
	for i, c := range keyCols {
		keyNames[i] = c.Name
	}

	var sets []string
	for _, c := range valueCols {
		if !c.InsertOnly {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
		}
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		table,
		strings.Join(names, ", "),
		strings.Join(marks, ", "),
		strings.Join(keyNames, ", "),
		conflict,
	)
	_, err := ex.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// ApplyBatch writes every mutation in one transaction. Either the whole
// batch lands or none of it does.
func (s *Store) ApplyBatch(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch: begin: %w", err)
	}
	defer tx.Rollback() // No-op after Commit

	for _, m := range muts {
		if err := s.apply(ctx, tx, m); err != nil {
			return fmt.Errorf("apply batch: %s %s/%s: %w", m.op(), m.Identity, m.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply batch: commit: %w", err)
	}
	return nil
}

func (m Mutation) op() string {
	if m.Delete {
		return "delete"
	}
	return "upsert"
}

// apply writes one mutation inside tx.
func (s *Store) apply(ctx context.Context, tx *sql.Tx, m Mutation) error {
	global := m.Scope == ir.ScopeGlobal

	if m.Delete {
		var err error
		if global {
			_, err = tx.ExecContext(ctx, s.rebind(
				`DELETE FROM global_variables WHERE variable_key = ?`), m.Key)
		} else {
			_, err = tx.ExecContext(ctx, s.rebind(
				`DELETE FROM player_variables WHERE identity_id = ? AND variable_key = ?`), m.Identity, m.Key)
		}
		return err
	}

	values := []Column{
		{Name: "value", Value: m.Value},
		{Name: "strict_base", Value: m.StrictBase},
		{Name: "created_at", Value: m.CreatedAt, InsertOnly: true},
		{Name: "updated_at", Value: m.UpdatedAt},
	}
	if global {
		return s.upsert(ctx, tx, TableGlobal,
			[]Column{{Name: "variable_key", Value: m.Key}}, values)
	}
	return s.upsert(ctx, tx, TablePlayer,
		[]Column{{Name: "identity_id", Value: m.Identity}, {Name: "variable_key", Value: m.Key}}, values)
}
