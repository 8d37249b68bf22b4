// Package postgres implements the economy store on PostgreSQL via lib/pq.
// It mirrors the sqlite backend statement for statement; Postgres always
// supports multi-statement transactions, so engines running on this backend
// stay on the transactional strategy.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aibarena/aibarena/internal/domain"
)

var _ domain.EconomyStore = (*DB)(nil)

// DB wraps the Postgres handle. RunInTx hands callbacks a DB view bound to
// a transaction.
type DB struct {
	sql *sql.DB // nil for tx-scoped views
	q   querier
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the database at dsn and applies the schema migrations.
func Open(dsn string) (*DB, error) {
	handle, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
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
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS balances (
			telegram_id TEXT NOT NULL,
			currency    TEXT NOT NULL,
			balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (telegram_id, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id          TEXT PRIMARY KEY,
			telegram_id TEXT NOT NULL,
			currency    TEXT NOT NULL,
			direction   TEXT NOT NULL,
			amount      BIGINT NOT NULL CHECK (amount >= 0),
			reason      TEXT NOT NULL DEFAULT '',
			arena       TEXT NOT NULL DEFAULT '',
			league      TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			source_id   TEXT NOT NULL DEFAULT '',
			idem_token  TEXT NOT NULL DEFAULT '',
			applied     BOOLEAN NOT NULL DEFAULT FALSE,
			meta_json   TEXT NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL,
			applied_at  TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idem ON ledger_entries
			(telegram_id, currency, direction, reason, source_type, source_id)
			WHERE source_type <> '' AND source_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(telegram_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_unapplied ON ledger_entries(applied, created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			emitted  BIGINT NOT NULL DEFAULT 0,
			spent    BIGINT NOT NULL DEFAULT 0,
			burned   BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_arena_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			arena    TEXT NOT NULL,
			emitted  BIGINT NOT NULL DEFAULT 0,
			spent    BIGINT NOT NULL DEFAULT 0,
			burned   BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency, arena)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_reason_totals (
			day      TEXT NOT NULL,
			currency TEXT NOT NULL,
			reason   TEXT NOT NULL,
			emitted  BIGINT NOT NULL DEFAULT 0,
			spent    BIGINT NOT NULL DEFAULT 0,
			burned   BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, currency, reason)
		)`,
		`CREATE TABLE IF NOT EXISTS economy_config (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			config_json TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
}

// isUniqueViolation reports whether err is a unique_violation (23505).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// ─── Transactions ───────────────────────────────────────────────────────────

// RunInTx runs fn inside one transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(tx domain.EconomyStore) error) error {
	if d.sql == nil {
		return domain.ErrTxUnsupported
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&DB{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

func (d *DB) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	meta := "{}"
	if len(e.Meta) > 0 {
		raw, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode ledger meta: %w", err)
		}
		meta = string(raw)
	}
	var appliedAt any
	if !e.AppliedAt.IsZero() {
		appliedAt = e.AppliedAt.UTC()
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, telegram_id, currency, direction, amount, reason, arena, league,
			 source_type, source_id, idem_token, applied, meta_json, created_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.TelegramID, string(e.Currency), string(e.Direction), e.Amount,
		e.Reason, e.Arena, e.League, e.SourceType, e.SourceID, e.IdemToken,
		e.Applied, meta, e.CreatedAt.UTC(), appliedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateEntry
	}
	return err
}

func (d *DB) FindLedgerEntry(ctx context.Context, key domain.IdempotencyKey) (*domain.LedgerEntry, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE telegram_id = $1 AND currency = $2 AND direction = $3
		  AND reason = $4 AND source_type = $5 AND source_id = $6
		LIMIT 1
	`, key.TelegramID, string(key.Currency), string(key.Direction),
		key.Reason, key.SourceType, key.SourceID)

	e, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (d *DB) MarkLedgerApplied(ctx context.Context, id string, at time.Time) error {
	_, err := d.q.ExecContext(ctx, `
		UPDATE ledger_entries SET applied = TRUE, applied_at = $1 WHERE id = $2
	`, at.UTC(), id)
	return err
}

func (d *DB) DeleteLedgerEntry(ctx context.Context, id string) error {
	_, err := d.q.ExecContext(ctx, `
		DELETE FROM ledger_entries WHERE id = $1 AND applied = FALSE
	`, id)
	return err
}

func (d *DB) ListLedgerEntries(ctx context.Context, telegramID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE telegram_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, telegramID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

func (d *DB) ListUnappliedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE applied = FALSE AND created_at < $1
		  AND source_type <> '' AND source_id <> ''
		ORDER BY created_at
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

const ledgerColumns = `id, telegram_id, currency, direction, amount, reason, arena, league,
	source_type, source_id, idem_token, applied, meta_json, created_at, applied_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var currency, direction, meta string
	var appliedAt sql.NullTime
	err := row.Scan(&e.ID, &e.TelegramID, &currency, &direction, &e.Amount,
		&e.Reason, &e.Arena, &e.League, &e.SourceType, &e.SourceID, &e.IdemToken,
		&e.Applied, &meta, &e.CreatedAt, &appliedAt)
	if err != nil {
		return nil, err
	}
	e.Currency = domain.Currency(currency)
	e.Direction = domain.Direction(direction)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return nil, fmt.Errorf("decode ledger meta: %w", err)
		}
	}
	if appliedAt.Valid {
		e.AppliedAt = appliedAt.Time
	}
	return &e, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	var result []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// ─── Balance Operations ─────────────────────────────────────────────────────

func (d *DB) AddBalance(ctx context.Context, telegramID string, c domain.Currency, amount int64) (int64, error) {
	var balance int64
	err := d.q.QueryRowContext(ctx, `
		INSERT INTO balances (telegram_id, currency, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id, currency) DO UPDATE SET
			balance    = balances.balance + EXCLUDED.balance,
			updated_at = NOW()
		RETURNING balance
	`, telegramID, string(c), amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

func (d *DB) SpendBalance(ctx context.Context, telegramID string, c domain.Currency, amount int64) (int64, bool, error) {
	var balance int64
	err := d.q.QueryRowContext(ctx, `
		UPDATE balances SET
			balance    = balance - $1,
			updated_at = NOW()
		WHERE telegram_id = $2 AND currency = $3 AND balance >= $1
		RETURNING balance
	`, amount, telegramID, string(c)).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	return balance, true, nil
}

func (d *DB) GetBalances(ctx context.Context, telegramID string) (map[domain.Currency]int64, error) {
	balances := make(map[domain.Currency]int64, len(domain.Currencies()))
	for _, c := range domain.Currencies() {
		balances[c] = 0
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT currency, balance FROM balances WHERE telegram_id = $1
	`, telegramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var currency string
		var balance int64
		if err := rows.Scan(&currency, &balance); err != nil {
			return nil, err
		}
		balances[domain.Currency(currency)] = balance
	}
	return balances, rows.Err()
}

// ─── Daily Counter Operations ───────────────────────────────────────────────

func (d *DB) TryAddEmitted(ctx context.Context, day string, c domain.Currency, arena string, amount, globalCap, arenaCap int64) (bool, error) {
	if d.sql == nil {
		return d.tryAddEmitted(ctx, d.q, day, c, arena, amount, globalCap, arenaCap)
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin emission transaction: %w", err)
	}
	ok, err := d.tryAddEmitted(ctx, tx, day, c, arena, amount, globalCap, arenaCap)
	if err != nil || !ok {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit emission transaction: %w", err)
	}
	return true, nil
}

func (d *DB) tryAddEmitted(ctx context.Context, q querier, day string, c domain.Currency, arena string, amount, globalCap, arenaCap int64) (bool, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO daily_totals (day, currency) VALUES ($1, $2)
		ON CONFLICT (day, currency) DO NOTHING
	`, day, string(c)); err != nil {
		return false, err
	}
	var res sql.Result
	var err error
	if globalCap > 0 {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_totals SET emitted = emitted + $1
			WHERE day = $2 AND currency = $3 AND emitted + $1 <= $4
		`, amount, day, string(c), globalCap)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_totals SET emitted = emitted + $1
			WHERE day = $2 AND currency = $3
		`, amount, day, string(c))
	}
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}

	if arena == "" {
		return true, nil
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO daily_arena_totals (day, currency, arena) VALUES ($1, $2, $3)
		ON CONFLICT (day, currency, arena) DO NOTHING
	`, day, string(c), arena); err != nil {
		return false, err
	}
	if arenaCap > 0 {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_arena_totals SET emitted = emitted + $1
			WHERE day = $2 AND currency = $3 AND arena = $4 AND emitted + $1 <= $5
		`, amount, day, string(c), arena, arenaCap)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_arena_totals SET emitted = emitted + $1
			WHERE day = $2 AND currency = $3 AND arena = $4
		`, amount, day, string(c), arena)
	}
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}
	return true, nil
}

func (d *DB) AddCredited(ctx context.Context, day string, c domain.Currency, reason string, amount int64) error {
	if reason == "" {
		return nil
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO daily_reason_totals (day, currency, reason, emitted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (day, currency, reason) DO UPDATE SET
			emitted = daily_reason_totals.emitted + EXCLUDED.emitted
	`, day, string(c), reason, amount)
	return err
}

func (d *DB) AddSpent(ctx context.Context, day string, c domain.Currency, arena, reason string, amount int64, burned bool) error {
	column := "spent"
	if burned {
		column = "burned"
	}
	if _, err := d.q.ExecContext(ctx, `
		INSERT INTO daily_totals (day, currency, `+column+`)
		VALUES ($1, $2, $3)
		ON CONFLICT (day, currency) DO UPDATE SET
			`+column+` = daily_totals.`+column+` + EXCLUDED.`+column+`
	`, day, string(c), amount); err != nil {
		return err
	}
	if arena != "" {
		if _, err := d.q.ExecContext(ctx, `
			INSERT INTO daily_arena_totals (day, currency, arena, `+column+`)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (day, currency, arena) DO UPDATE SET
				`+column+` = daily_arena_totals.`+column+` + EXCLUDED.`+column+`
		`, day, string(c), arena, amount); err != nil {
			return err
		}
	}
	if reason != "" {
		if _, err := d.q.ExecContext(ctx, `
			INSERT INTO daily_reason_totals (day, currency, reason, `+column+`)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (day, currency, reason) DO UPDATE SET
				`+column+` = daily_reason_totals.`+column+` + EXCLUDED.`+column+`
		`, day, string(c), reason, amount); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) DayTotals(ctx context.Context, day string) (*domain.DayTotals, error) {
	totals := &domain.DayTotals{
		Day:      day,
		Totals:   make(map[domain.Currency]domain.CounterBucket),
		ByArena:  make(map[domain.Currency]map[string]domain.CounterBucket),
		ByReason: make(map[domain.Currency]map[string]domain.CounterBucket),
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT currency, emitted, spent, burned FROM daily_totals WHERE day = $1
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var currency string
		var b domain.CounterBucket
		if err := rows.Scan(&currency, &b.Emitted, &b.Spent, &b.Burned); err != nil {
			return nil, err
		}
		totals.Totals[domain.Currency(currency)] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arenaRows, err := d.q.QueryContext(ctx, `
		SELECT currency, arena, emitted, spent, burned FROM daily_arena_totals WHERE day = $1
	`, day)
	if err != nil {
		return nil, err
	}
	defer arenaRows.Close()
	for arenaRows.Next() {
		var currency, arena string
		var b domain.CounterBucket
		if err := arenaRows.Scan(&currency, &arena, &b.Emitted, &b.Spent, &b.Burned); err != nil {
			return nil, err
		}
		cur := domain.Currency(currency)
		if totals.ByArena[cur] == nil {
			totals.ByArena[cur] = make(map[string]domain.CounterBucket)
		}
		totals.ByArena[cur][arena] = b
	}
	if err := arenaRows.Err(); err != nil {
		return nil, err
	}

	reasonRows, err := d.q.QueryContext(ctx, `
		SELECT currency, reason, emitted, spent, burned FROM daily_reason_totals WHERE day = $1
	`, day)
	if err != nil {
		return nil, err
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var currency, reason string
		var b domain.CounterBucket
		if err := reasonRows.Scan(&currency, &reason, &b.Emitted, &b.Spent, &b.Burned); err != nil {
			return nil, err
		}
		cur := domain.Currency(currency)
		if totals.ByReason[cur] == nil {
			totals.ByReason[cur] = make(map[string]domain.CounterBucket)
		}
		totals.ByReason[cur][reason] = b
	}
	return totals, reasonRows.Err()
}

// ─── Economy Config Operations ──────────────────────────────────────────────

func (d *DB) EconomyConfig(ctx context.Context) (*domain.EconomyConfig, error) {
	var raw string
	err := d.q.QueryRowContext(ctx, `
		SELECT config_json FROM economy_config WHERE id = 1
	`).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.DefaultEconomyConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	var cfg domain.EconomyConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode economy config: %w", err)
	}
	return &cfg, nil
}

func (d *DB) SaveEconomyConfig(ctx context.Context, cfg *domain.EconomyConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode economy config: %w", err)
	}
	_, err = d.q.ExecContext(ctx, `
		INSERT INTO economy_config (id, config_json) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()
	`, string(raw))
	return err
}
