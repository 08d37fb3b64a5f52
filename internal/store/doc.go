// Package store provides the SQL backing store for variable values.
//
// Two tables hold the durable state:
//   - global_variables: one row per global variable key
//   - player_variables: one row per (identity, key)
//
// Each row carries the stored value (absolute for literal variables, the
// increment for formula variables), the frozen strict base when one was
// computed, and created/updated timestamps in unix milliseconds.
//
// Writes are idempotent upserts and deletes, so a batch that is retried
// after a partial failure converges to the same state.
//
// # Database Configuration
//
// SQLite (drivers "sqlite3" and "sqlite"):
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite allows a single writer
//
// Postgres (driver "pgx") uses its own schema and $n placeholders; queries
// are written once with ? and rebound per dialect.
package store
