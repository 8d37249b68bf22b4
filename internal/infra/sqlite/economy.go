package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aibarena/aibarena/internal/domain"
)

var _ domain.EconomyStore = (*DB)(nil)

// ─── Transactions ───────────────────────────────────────────────────────────

// RunInTx runs fn against a DB view bound to one transaction; all effects
// commit or abort together. Nested calls report ErrTxUnsupported — the
// engine never nests, and a tx-scoped view cannot open another transaction.
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

// InsertLedgerEntry writes a new ledger row. Entries carrying provenance
// hit the partial unique index; a violation is reported as
// domain.ErrDuplicateEntry so the engine can fold into its duplicate or
// repair path.
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
		appliedAt = e.AppliedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, telegram_id, currency, direction, amount, reason, arena, league,
			 source_type, source_id, idem_token, applied, meta_json, created_at, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TelegramID, string(e.Currency), string(e.Direction), e.Amount,
		e.Reason, e.Arena, e.League, e.SourceType, e.SourceID, e.IdemToken,
		boolToInt(e.Applied), meta, e.CreatedAt.UTC().Format(time.RFC3339Nano), appliedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateEntry
	}
	return err
}

// FindLedgerEntry loads the entry claimed under an idempotency key.
// Returns (nil, nil) when no row exists.
func (d *DB) FindLedgerEntry(ctx context.Context, key domain.IdempotencyKey) (*domain.LedgerEntry, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE telegram_id = ? AND currency = ? AND direction = ?
		  AND reason = ? AND source_type = ? AND source_id = ?
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

// MarkLedgerApplied flips the applied flag true.
func (d *DB) MarkLedgerApplied(ctx context.Context, id string, at time.Time) error {
	_, err := d.q.ExecContext(ctx, `
		UPDATE ledger_entries SET applied = 1, applied_at = ? WHERE id = ?
	`, at.UTC().Format(time.RFC3339Nano), id)
	return err
}

// DeleteLedgerEntry removes a still-unapplied row. This is only ever the
// crash-recovery rollback of a debit whose balance guard rejected; applied
// rows are immutable and stay put.
func (d *DB) DeleteLedgerEntry(ctx context.Context, id string) error {
	_, err := d.q.ExecContext(ctx, `
		DELETE FROM ledger_entries WHERE id = ? AND applied = 0
	`, id)
	return err
}

// ListLedgerEntries returns an account's most recent entries.
func (d *DB) ListLedgerEntries(ctx context.Context, telegramID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE telegram_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, telegramID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

// ListUnappliedBefore returns idempotent rows stuck in applied=false since
// before cutoff — orphan sweep input. Audit rows without provenance are
// excluded: there is nothing to repair for them.
func (d *DB) ListUnappliedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE applied = 0 AND created_at < ?
		  AND source_type <> '' AND source_id <> ''
		ORDER BY created_at
		LIMIT ?
	`, cutoff.UTC().Format(time.RFC3339Nano), limit)
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
	var currency, direction, meta, createdAt string
	var appliedAt sql.NullString
	var applied int
	err := row.Scan(&e.ID, &e.TelegramID, &currency, &direction, &e.Amount,
		&e.Reason, &e.Arena, &e.League, &e.SourceType, &e.SourceID, &e.IdemToken,
		&applied, &meta, &createdAt, &appliedAt)
	if err != nil {
		return nil, err
	}
	e.Currency = domain.Currency(currency)
	e.Direction = domain.Direction(direction)
	e.Applied = applied != 0
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return nil, fmt.Errorf("decode ledger meta: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	if appliedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, appliedAt.String); err == nil {
			e.AppliedAt = t
		}
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

// AddBalance credits an account with one atomic upsert-increment and
// returns the new balance.
func (d *DB) AddBalance(ctx context.Context, telegramID string, c domain.Currency, amount int64) (int64, error) {
	var balance int64
	err := d.q.QueryRowContext(ctx, `
		INSERT INTO balances (telegram_id, currency, balance)
		VALUES (?, ?, ?)
		ON CONFLICT(telegram_id, currency) DO UPDATE SET
			balance    = balance + excluded.balance,
			updated_at = datetime('now')
		RETURNING balance
	`, telegramID, string(c), amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// SpendBalance debits an account with a single guarded atomic decrement.
// ok=false means the guard rejected (insufficient funds or no balance row);
// the stored balance is untouched in that case.
func (d *DB) SpendBalance(ctx context.Context, telegramID string, c domain.Currency, amount int64) (int64, bool, error) {
	var balance int64
	err := d.q.QueryRowContext(ctx, `
		UPDATE balances SET
			balance    = balance - ?,
			updated_at = datetime('now')
		WHERE telegram_id = ? AND currency = ? AND balance >= ?
		RETURNING balance
	`, amount, telegramID, string(c), amount).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	return balance, true, nil
}

// GetBalances returns the account's balances, zero-filled for every known
// currency.
func (d *DB) GetBalances(ctx context.Context, telegramID string) (map[domain.Currency]int64, error) {
	balances := make(map[domain.Currency]int64, len(domain.Currencies()))
	for _, c := range domain.Currencies() {
		balances[c] = 0
	}
	rows, err := d.q.QueryContext(ctx, `
		SELECT currency, balance FROM balances WHERE telegram_id = ?
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

// TryAddEmitted is the test-and-increment primitive behind emission caps:
// "increment only if doing so keeps you under the cap" as one indivisible
// unit. The guard is part of the UPDATE's WHERE clause, so the check and
// the increment can never be separated by a concurrent writer; when both a
// global and an arena guard apply they run inside one transaction and are
// rejected as a unit, never partially.
func (d *DB) TryAddEmitted(ctx context.Context, day string, c domain.Currency, arena string, amount, globalCap, arenaCap int64) (bool, error) {
	if d.sql == nil {
		// Already inside a transaction: the surrounding tx is the unit.
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
		INSERT OR IGNORE INTO daily_totals (day, currency) VALUES (?, ?)
	`, day, string(c)); err != nil {
		return false, err
	}
	var res sql.Result
	var err error
	if globalCap > 0 {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_totals SET emitted = emitted + ?
			WHERE day = ? AND currency = ? AND emitted + ? <= ?
		`, amount, day, string(c), amount, globalCap)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_totals SET emitted = emitted + ?
			WHERE day = ? AND currency = ?
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
		INSERT OR IGNORE INTO daily_arena_totals (day, currency, arena) VALUES (?, ?, ?)
	`, day, string(c), arena); err != nil {
		return false, err
	}
	if arenaCap > 0 {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_arena_totals SET emitted = emitted + ?
			WHERE day = ? AND currency = ? AND arena = ? AND emitted + ? <= ?
		`, amount, day, string(c), arena, amount, arenaCap)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE daily_arena_totals SET emitted = emitted + ?
			WHERE day = ? AND currency = ? AND arena = ?
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

// AddCredited files an applied credit into the per-reason emission
// breakdown. The global and per-arena emitted totals belong to TryAddEmitted
// so granted capacity is never counted twice.
func (d *DB) AddCredited(ctx context.Context, day string, c domain.Currency, reason string, amount int64) error {
	if reason == "" {
		return nil
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO daily_reason_totals (day, currency, reason, emitted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day, currency, reason) DO UPDATE SET
			emitted = emitted + excluded.emitted
	`, day, string(c), reason, amount)
	return err
}

// AddSpent files an applied debit into the spent or burned buckets:
// global, per-arena and per-reason.
func (d *DB) AddSpent(ctx context.Context, day string, c domain.Currency, arena, reason string, amount int64, burned bool) error {
	column := "spent"
	if burned {
		column = "burned"
	}
	if _, err := d.q.ExecContext(ctx, `
		INSERT INTO daily_totals (day, currency, `+column+`)
		VALUES (?, ?, ?)
		ON CONFLICT(day, currency) DO UPDATE SET
			`+column+` = `+column+` + excluded.`+column+`
	`, day, string(c), amount); err != nil {
		return err
	}
	if arena != "" {
		if _, err := d.q.ExecContext(ctx, `
			INSERT INTO daily_arena_totals (day, currency, arena, `+column+`)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(day, currency, arena) DO UPDATE SET
				`+column+` = `+column+` + excluded.`+column+`
		`, day, string(c), arena, amount); err != nil {
			return err
		}
	}
	if reason != "" {
		if _, err := d.q.ExecContext(ctx, `
			INSERT INTO daily_reason_totals (day, currency, reason, `+column+`)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(day, currency, reason) DO UPDATE SET
				`+column+` = `+column+` + excluded.`+column+`
		`, day, string(c), reason, amount); err != nil {
			return err
		}
	}
	return nil
}

// DayTotals reads back a full day of counters for reporting.
func (d *DB) DayTotals(ctx context.Context, day string) (*domain.DayTotals, error) {
	totals := &domain.DayTotals{
		Day:      day,
		Totals:   make(map[domain.Currency]domain.CounterBucket),
		ByArena:  make(map[domain.Currency]map[string]domain.CounterBucket),
		ByReason: make(map[domain.Currency]map[string]domain.CounterBucket),
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT currency, emitted, spent, burned FROM daily_totals WHERE day = ?
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
		SELECT currency, arena, emitted, spent, burned FROM daily_arena_totals WHERE day = ?
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
		SELECT currency, reason, emitted, spent, burned FROM daily_reason_totals WHERE day = ?
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

// EconomyConfig loads the operator-owned configuration record, falling back
// to the permissive default when none has been written yet.
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

// SaveEconomyConfig replaces the configuration record.
func (d *DB) SaveEconomyConfig(ctx context.Context, cfg *domain.EconomyConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode economy config: %w", err)
	}
	_, err = d.q.ExecContext(ctx, `
		INSERT INTO economy_config (id, config_json) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at  = datetime('now')
	`, string(raw))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
