// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"strings"
	"time"
)

// ─── Currency Types ─────────────────────────────────────────────────────────

// Currency identifies one of the game's currencies. Operations are
// parameterized over Currency so every flow works for all of them.
type Currency string

const (
	// NEUR is the spendable utility currency.
	NEUR Currency = "NEUR"
	// AIBA is the reward currency; new supply is subject to emission caps.
	AIBA Currency = "AIBA"
	// STARS is the auxiliary premium currency.
	STARS Currency = "STARS"
)

// Currencies lists every known currency in a stable order.
func Currencies() []Currency { return []Currency{NEUR, AIBA, STARS} }

// ParseCurrency normalizes a currency string. Unknown values are returned
// uppercased so auxiliary currencies added later keep working.
func ParseCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether the currency is non-empty.
func (c Currency) Valid() bool { return c != "" }

// ─── Ledger Types ───────────────────────────────────────────────────────────

// Direction is the accounting side of a ledger entry.
type Direction string

const (
	DirCredit Direction = "credit"
	DirDebit  Direction = "debit"
)

// LedgerEntry is a single row in the economy ledger. Entries are immutable
// once written, apart from the Applied flag which flips false→true exactly
// once, by the same logical operation that mutates the balance.
type LedgerEntry struct {
	ID         string            `json:"id"`
	TelegramID string            `json:"telegram_id"`
	Currency   Currency          `json:"currency"`
	Direction  Direction         `json:"direction"`
	Amount     int64             `json:"amount"`
	Reason     string            `json:"reason"`
	Arena      string            `json:"arena,omitempty"`
	League     string            `json:"league,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	SourceID   string            `json:"source_id,omitempty"`
	IdemToken  string            `json:"idem_token,omitempty"`
	Applied    bool              `json:"applied"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	AppliedAt  time.Time         `json:"applied_at,omitempty"`
}

// IdempotencyKey identifies a logically unique mutation attempt. Two calls
// carrying the same key must result in exactly one balance mutation.
type IdempotencyKey struct {
	TelegramID string
	Currency   Currency
	Direction  Direction
	Reason     string
	SourceType string
	SourceID   string
}

// Key returns the entry's idempotency key.
func (e *LedgerEntry) Key() IdempotencyKey {
	return IdempotencyKey{
		TelegramID: e.TelegramID,
		Currency:   e.Currency,
		Direction:  e.Direction,
		Reason:     e.Reason,
		SourceType: e.SourceType,
		SourceID:   e.SourceID,
	}
}

// Idempotent reports whether the entry carries provenance. Entries without a
// provenance pair are plain audit records and are never deduplicated.
func (e *LedgerEntry) Idempotent() bool {
	return e.SourceType != "" && e.SourceID != ""
}

// ─── Daily Counters ─────────────────────────────────────────────────────────

// DayKey formats an instant as the UTC calendar day used to key counters.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// CounterBucket holds the running totals for one (day, currency) slice.
type CounterBucket struct {
	Emitted int64 `json:"emitted"`
	Spent   int64 `json:"spent"`
	Burned  int64 `json:"burned"`
}

// DayTotals is the full counter readback for one UTC day: global totals per
// currency plus the arena and reason breakdowns.
type DayTotals struct {
	Day      string                                 `json:"day"`
	Totals   map[Currency]CounterBucket             `json:"totals"`
	ByArena  map[Currency]map[string]CounterBucket  `json:"by_arena"`
	ByReason map[Currency]map[string]CounterBucket  `json:"by_reason"`
}

// ─── Operation Results ──────────────────────────────────────────────────────

// Failure reasons returned to callers as data, never as panics. Business and
// validation outcomes are structured results so callers can branch without
// error-handling boilerplate.
const (
	FailTelegramIDRequired = "telegram_id_required"
	FailInsufficient       = "insufficient"
	FailCapExceeded        = "cap_exceeded"
	FailWindowClosed       = "outside_emission_window"
)

// MutationResult is the outcome of a credit or debit.
type MutationResult struct {
	OK        bool   `json:"ok"`
	Balance   int64  `json:"balance,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`   // amount ≤ 0, benign no-op
	Duplicate bool   `json:"duplicate,omitempty"` // idempotent replay of a prior success
	Repaired  bool   `json:"repaired,omitempty"`  // completed an orphaned two-phase row
	Failure   string `json:"failure,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
}

// EmissionResult is the outcome of an emission capacity check.
type EmissionResult struct {
	OK      bool   `json:"ok"`
	Failure string `json:"failure,omitempty"`
}
