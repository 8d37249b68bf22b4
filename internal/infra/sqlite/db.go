// Package sqlite implements the economy store on SQLite via the pure-Go
// modernc.org/sqlite driver. Every mutation the engine depends on is a
// single SQL statement (guarded UPDATE, upsert-increment, constrained
// INSERT), so each one is atomic on its own; multi-statement atomicity is
// offered through RunInTx.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle. A DB returned by Open runs statements on the
// connection pool; RunInTx hands callbacks a DB view bound to a transaction.
type DB struct {
	sql *sql.DB // nil for tx-scoped views
	q   querier
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the economy database at path and applies
// the schema migrations. WAL mode keeps concurrent atomic increments from
// serializing readers against writers; busy_timeout absorbs short write
// contention instead of surfacing SQLITE_BUSY.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db := &DB{sql: handle, q: handle}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	if d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.sql.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Account balances — one row per (account, currency). The CHECK
		// backs up the guarded decrement: the balance can never go
		// negative even if a future call site forgets the guard.
		`CREATE TABLE IF NOT EXISTS balances (
			telegram_id TEXT NOT NULL,
			currency    TEXT NOT NULL,
			balance     INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (telegram_id, currency)
		)`,

		// Ledger entries — append-mostly; applied flips 0→1 once.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          TEXT PRIMARY KEY,
			telegram_id TEXT NOT NULL,
			currency    TEXT NOT NULL,
			direction   TEXT NOT NULL,
			amount      INTEGER NOT NULL CHECK (amount >= 0),
			reason      TEXT NOT NULL DEFAULT '',
			arena       TEXT NOT NULL DEFAULT '',
			league      TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			source_id   TEXT NOT NULL DEFAULT '',
			idem_token  TEXT NOT NULL DEFAULT '',
			applied     INTEGER NOT NULL DEFAULT 0,
			meta_json   TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			applied_at  TEXT
		)`,

		// The idempotency claim: rows carrying provenance are unique per
		// (account, currency, direction, reason, sourceType, sourceId).
		// Rows without provenance are plain audit records and stay out of
		// the index.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idem ON ledger_entries
			(telegram_id, currency, direction, reason, source_type, source_id)
			WHERE source_type <> '' AND source_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(telegram_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_unapplied ON ledger_entries(applied, created_at)`,

		// Daily counters — one row per UTC day slice, mutated only by
		// atomic increments after an INSERT OR IGNORE upsert.
		`CREATE TABLE IF NOT EXISTS daily_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			emitted  INTEGER NOT NULL DEFAULT 0,
			spent    INTEGER NOT NULL DEFAULT 0,
			burned   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_arena_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			arena    TEXT NOT NULL,
			emitted  INTEGER NOT NULL DEFAULT 0,
			spent    INTEGER NOT NULL DEFAULT 0,
			burned   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency, arena)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_reason_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			reason   TEXT NOT NULL,
			emitted  INTEGER NOT NULL DEFAULT 0,
			spent    INTEGER NOT NULL DEFAULT 0,
			burned   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency, reason)
		)`,

		// Operator-owned economy configuration: a single mutable record.
		`CREATE TABLE IF NOT EXISTS economy_config (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			config_json TEXT NOT NULL,
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
