package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Row is one persisted variable row.
type Row struct {
	Identity   string // empty for global rows
	Key        string
	Value      sql.NullString
	StrictBase sql.NullString
	CreatedAt  int64
	UpdatedAt  int64
}

// LoadGlobals returns every global row ordered by key.
//
// Returns an empty slice (not nil) if no rows exist.
func (s *Store) LoadGlobals(ctx context.Context) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT '', variable_key, value, strict_base, created_at, updated_at
		FROM global_variables
		ORDER BY variable_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query global variables: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, "global variables")
}

// LoadIdentity returns every row of one identity ordered by key.
//
// Returns an empty slice (not nil) if no rows exist.
func (s *Store) LoadIdentity(ctx context.Context, identity string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT identity_id, variable_key, value, strict_base, created_at, updated_at
		FROM player_variables
		WHERE identity_id = ?
		ORDER BY variable_key ASC
	`), identity)
	if err != nil {
		return nil, fmt.Errorf("query player variables: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, "player variables")
}

func scanRows(rows *sql.Rows, what string) ([]Row, error) {
	out := []Row{}
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Identity, &r.Key, &r.Value, &r.StrictBase, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}
