package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Stores translate
// driver-specific failures into these so the engine can branch on them.

var (
	// Ledger errors
	ErrDuplicateEntry = errors.New("ledger entry already exists for idempotency key")
	ErrEntryNotFound  = errors.New("ledger entry not found")

	// Balance errors
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Store capability errors
	ErrTxUnsupported = errors.New("store does not support multi-statement transactions")
)
