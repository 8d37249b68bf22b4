package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.
//
// Every method that touches the store takes a context.Context: each call is
// a point of potential blocking on database I/O, and request-level timeouts
// belong to the caller.

// LedgerStore persists ledger entries. InsertLedgerEntry must enforce the
// uniqueness constraint over the idempotency key whenever the entry carries
// provenance, returning ErrDuplicateEntry on violation.
type LedgerStore interface {
	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error
	FindLedgerEntry(ctx context.Context, key IdempotencyKey) (*LedgerEntry, error)
	MarkLedgerApplied(ctx context.Context, id string, at time.Time) error
	DeleteLedgerEntry(ctx context.Context, id string) error
	ListLedgerEntries(ctx context.Context, telegramID string, limit int) ([]LedgerEntry, error)
	ListUnappliedBefore(ctx context.Context, cutoff time.Time, limit int) ([]LedgerEntry, error)
}

// BalanceStore mutates account balances. Both mutations are single atomic
// store operations — never read-modify-write in application code.
// SpendBalance is guarded by balance >= amount and reports ok=false when the
// guard rejects; the balance never goes negative.
type BalanceStore interface {
	AddBalance(ctx context.Context, telegramID string, c Currency, amount int64) (int64, error)
	SpendBalance(ctx context.Context, telegramID string, c Currency, amount int64) (int64, bool, error)
	GetBalances(ctx context.Context, telegramID string) (map[Currency]int64, error)
}

// CounterStore maintains the per-UTC-day counter rows via atomic
// upsert-increments. TryAddEmitted is the test-and-increment primitive: it
// increments the global emitted total (guarded by globalCap when > 0) and
// the arena sub-counter (guarded by arenaCap when > 0) as one atomic unit,
// reporting ok=false — with zero partial increments — when any guard
// rejects.
type CounterStore interface {
	TryAddEmitted(ctx context.Context, day string, c Currency, arena string, amount, globalCap, arenaCap int64) (bool, error)
	AddCredited(ctx context.Context, day string, c Currency, reason string, amount int64) error
	AddSpent(ctx context.Context, day string, c Currency, arena, reason string, amount int64, burned bool) error
	DayTotals(ctx context.Context, day string) (*DayTotals, error)
}

// ConfigStore persists the single operator-owned economy configuration.
// EconomyConfig returns DefaultEconomyConfig() when none has been written.
type ConfigStore interface {
	EconomyConfig(ctx context.Context) (*EconomyConfig, error)
	SaveEconomyConfig(ctx context.Context, cfg *EconomyConfig) error
}

// EconomyStore is the full storage contract the economy engine runs
// against. RunInTx executes fn against a store view whose effects commit or
// abort together; backends that cannot offer multi-statement atomicity
// return ErrTxUnsupported, which downgrades the engine to its two-phase
// strategy.
type EconomyStore interface {
	LedgerStore
	BalanceStore
	CounterStore
	ConfigStore

	RunInTx(ctx context.Context, fn func(tx EconomyStore) error) error
}
