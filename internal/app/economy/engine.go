package economy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aibarena/aibarena/internal/domain"
	"github.com/aibarena/aibarena/internal/infra/observability"
)

// Strategy selects how a mutation reaches the store.
type Strategy string

const (
	// StrategyAuto tries the transactional path and downgrades to the
	// two-phase path when the store reports ErrTxUnsupported.
	StrategyAuto Strategy = "auto"
	// StrategyTransactional always runs inside a store transaction.
	StrategyTransactional Strategy = "transactional"
	// StrategyTwoPhase always runs the crash-safe two-phase apply.
	StrategyTwoPhase Strategy = "two_phase"
)

// Engine performs credit and debit operations against the balance store
// while writing a matching ledger row, with idempotent replay semantics.
//
// Callers MUST retry ambiguous failures (network timeout, propagated store
// error) with the identical provenance pair. Retrying with a different key
// can double-apply; retrying with the same key folds into the
// duplicate/repair path and is always safe.
type Engine struct {
	store    domain.EconomyStore
	strategy Strategy
	now      func() time.Time
}

// Options configures an Engine.
type Options struct {
	Strategy Strategy         // default StrategyAuto
	Now      func() time.Time // injectable clock for tests
}

// NewEngine creates an economy engine over the given store.
func NewEngine(store domain.EconomyStore, opts Options) *Engine {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Engine{store: store, strategy: strategy, now: nowFn}
}

// Store exposes the underlying store for read-only surfaces.
func (e *Engine) Store() domain.EconomyStore { return e.store }

// MutationRequest describes one credit or debit.
type MutationRequest struct {
	TelegramID string
	Currency   domain.Currency
	Amount     int64
	Reason     string
	Arena      string
	League     string
	SourceType string // provenance; empty pair => non-idempotent audit path
	SourceID   string
	IdemToken  string
	Meta       map[string]string
}

// Credit adds amount units of currency to the account.
func (e *Engine) Credit(ctx context.Context, req MutationRequest) (domain.MutationResult, error) {
	return e.mutate(ctx, domain.DirCredit, req)
}

// Debit removes amount units of currency from the account. The balance
// never goes negative: a debit that would do so fails with
// FailInsufficient and leaves balance and ledger unchanged.
func (e *Engine) Debit(ctx context.Context, req MutationRequest) (domain.MutationResult, error) {
	return e.mutate(ctx, domain.DirDebit, req)
}

func (e *Engine) mutate(ctx context.Context, dir domain.Direction, req MutationRequest) (domain.MutationResult, error) {
	if strings.TrimSpace(req.TelegramID) == "" {
		observability.MutationsTotal.WithLabelValues(string(req.Currency), string(dir), "invalid").Inc()
		return domain.MutationResult{Failure: domain.FailTelegramIDRequired}, nil
	}
	// Non-positive amounts are a benign no-op, not an error: batch reward
	// callers routinely compute a zero share for some participants.
	if req.Amount <= 0 {
		observability.MutationsTotal.WithLabelValues(string(req.Currency), string(dir), "skipped").Inc()
		return domain.MutationResult{OK: true, Skipped: true}, nil
	}

	entry := &domain.LedgerEntry{
		ID:         uuid.NewString(),
		TelegramID: strings.TrimSpace(req.TelegramID),
		Currency:   req.Currency,
		Direction:  dir,
		Amount:     req.Amount,
		Reason:     req.Reason,
		Arena:      req.Arena,
		League:     req.League,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		IdemToken:  req.IdemToken,
		Meta:       req.Meta,
		CreatedAt:  e.now().UTC(),
	}

	if !entry.Idempotent() {
		return e.applyDirect(ctx, entry)
	}

	switch e.strategy {
	case StrategyTwoPhase:
		return e.applyTwoPhase(ctx, entry)
	case StrategyTransactional:
		return e.applyTransactional(ctx, entry)
	default:
		res, err := e.applyTransactional(ctx, entry)
		if errors.Is(err, domain.ErrTxUnsupported) {
			// Transparent downgrade within the same call: the caller
			// never sees the capability failure.
			observability.TxDowngradesTotal.Inc()
			return e.applyTwoPhase(ctx, entry)
		}
		return res, err
	}
}

// ─── Transactional Strategy ─────────────────────────────────────────────────

// applyTransactional inserts the ledger row, mutates the balance and updates
// the daily counters inside one store transaction. All three effects commit
// or abort together.
func (e *Engine) applyTransactional(ctx context.Context, entry *domain.LedgerEntry) (domain.MutationResult, error) {
	var balance int64
	at := e.now().UTC()

	err := e.store.RunInTx(ctx, func(tx domain.EconomyStore) error {
		entry.Applied = true
		entry.AppliedAt = at
		if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}
		var err error
		if entry.Direction == domain.DirDebit {
			var ok bool
			balance, ok, err = tx.SpendBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrInsufficientFunds
			}
		} else {
			balance, err = tx.AddBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
			if err != nil {
				return err
			}
		}
		return e.recordCounters(ctx, tx, entry, at)
	})

	switch {
	case err == nil:
		e.countApplied(entry)
		return domain.MutationResult{OK: true, Balance: balance, EntryID: entry.ID}, nil
	case errors.Is(err, domain.ErrDuplicateEntry):
		// Already handled by an earlier successful run; the balance is
		// guaranteed correct without reading further.
		observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "duplicate").Inc()
		return domain.MutationResult{OK: true, Duplicate: true}, nil
	case errors.Is(err, domain.ErrInsufficientFunds):
		observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "insufficient").Inc()
		return domain.MutationResult{Failure: domain.FailInsufficient}, nil
	case errors.Is(err, domain.ErrTxUnsupported):
		return domain.MutationResult{}, err
	default:
		observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "error").Inc()
		return domain.MutationResult{}, fmt.Errorf("transactional %s: %w", entry.Direction, err)
	}
}

// ─── Two-Phase Fallback Strategy ────────────────────────────────────────────
// Used when the store cannot run multi-statement transactions. Each step is
// an atomic single-row operation, but the sequence is not atomic as a
// whole: a crash between phase 1 and phase 3 leaves the row in the
// always-recoverable state applied=false. Recovery is re-entrant and
// inline — the next retry with the identical idempotency key completes the
// orphaned row instead of double-applying.

func (e *Engine) applyTwoPhase(ctx context.Context, entry *domain.LedgerEntry) (domain.MutationResult, error) {
	repaired := false

	// Phase 1: claim the idempotency key. The uniqueness constraint makes
	// the first writer win; everyone else folds into duplicate or repair.
	entry.Applied = false
	err := e.store.InsertLedgerEntry(ctx, entry)
	if errors.Is(err, domain.ErrDuplicateEntry) {
		existing, ferr := e.store.FindLedgerEntry(ctx, entry.Key())
		if ferr != nil {
			return domain.MutationResult{}, fmt.Errorf("load existing ledger entry: %w", ferr)
		}
		if existing == nil {
			// The conflicting row was rolled back between our insert and
			// lookup (insufficient-debit cleanup). Retry with the same key.
			return domain.MutationResult{}, domain.ErrEntryNotFound
		}
		if existing.Applied {
			observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "duplicate").Inc()
			return domain.MutationResult{OK: true, Duplicate: true, EntryID: existing.ID}, nil
		}
		// Abandoned after a crash before phase 2, or concurrently
		// in-flight: complete it as a repair.
		entry = existing
		repaired = true
	} else if err != nil {
		return domain.MutationResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	res, err := e.finishTwoPhase(ctx, entry)
	if err != nil || !res.OK {
		return res, err
	}
	if repaired {
		observability.RepairsTotal.Inc()
		res.Repaired = true
	}
	return res, nil
}

// finishTwoPhase runs phases 2 and 3 for a claimed applied=false row. It is
// shared with the orphan sweep.
func (e *Engine) finishTwoPhase(ctx context.Context, entry *domain.LedgerEntry) (domain.MutationResult, error) {
	// Phase 2: mutate the balance with a single guarded atomic update.
	var balance int64
	var err error
	if entry.Direction == domain.DirDebit {
		var ok bool
		balance, ok, err = e.store.SpendBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
		if err != nil {
			return domain.MutationResult{}, fmt.Errorf("debit balance: %w", err)
		}
		if !ok {
			// Roll the claim back, best-effort: a crash here just leaves
			// an applied=false row that a later repair retries and again
			// fails the guard.
			if derr := e.store.DeleteLedgerEntry(ctx, entry.ID); derr != nil {
				log.Printf("economy: rollback of ledger entry %s failed: %v", entry.ID, derr)
			}
			observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "insufficient").Inc()
			return domain.MutationResult{Failure: domain.FailInsufficient}, nil
		}
	} else {
		balance, err = e.store.AddBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
		if err != nil {
			return domain.MutationResult{}, fmt.Errorf("credit balance: %w", err)
		}
	}

	// Phase 3: mark the row applied and record the day's counters.
	at := e.now().UTC()
	if err := e.store.MarkLedgerApplied(ctx, entry.ID, at); err != nil {
		return domain.MutationResult{}, fmt.Errorf("mark ledger entry applied: %w", err)
	}
	// Counters are reporting only; the mutation itself already happened,
	// so a counter failure is logged rather than surfaced.
	if err := e.recordCounters(ctx, e.store, entry, at); err != nil {
		log.Printf("economy: daily counter update failed for entry %s: %v", entry.ID, err)
	}

	e.countApplied(entry)
	return domain.MutationResult{OK: true, Balance: balance, EntryID: entry.ID}, nil
}

// ─── Non-Idempotent Path ────────────────────────────────────────────────────

// applyDirect handles calls without provenance: legacy/manual callers that
// get no exactly-once guarantee. The ledger row is a plain audit record.
func (e *Engine) applyDirect(ctx context.Context, entry *domain.LedgerEntry) (domain.MutationResult, error) {
	var balance int64
	var err error
	if entry.Direction == domain.DirDebit {
		var ok bool
		balance, ok, err = e.store.SpendBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
		if err != nil {
			return domain.MutationResult{}, fmt.Errorf("debit balance: %w", err)
		}
		if !ok {
			observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "insufficient").Inc()
			return domain.MutationResult{Failure: domain.FailInsufficient}, nil
		}
	} else {
		balance, err = e.store.AddBalance(ctx, entry.TelegramID, entry.Currency, entry.Amount)
		if err != nil {
			return domain.MutationResult{}, fmt.Errorf("credit balance: %w", err)
		}
	}

	at := e.now().UTC()
	entry.Applied = true
	entry.AppliedAt = at
	if err := e.store.InsertLedgerEntry(ctx, entry); err != nil {
		log.Printf("economy: audit ledger insert failed for %s/%s: %v", entry.TelegramID, entry.Currency, err)
	}
	if err := e.recordCounters(ctx, e.store, entry, at); err != nil {
		log.Printf("economy: daily counter update failed for entry %s: %v", entry.ID, err)
	}

	e.countApplied(entry)
	return domain.MutationResult{OK: true, Balance: balance, EntryID: entry.ID}, nil
}

// ─── Daily Counter Bookkeeping ──────────────────────────────────────────────

// recordCounters files the mutation into the day's reporting buckets.
// Emitted totals (global and per-arena) are owned by TryEmit so grants are
// never double-counted; credits land in the per-reason emission breakdown,
// debits in the spent or burned buckets.
func (e *Engine) recordCounters(ctx context.Context, cs domain.CounterStore, entry *domain.LedgerEntry, at time.Time) error {
	day := domain.DayKey(at)
	if entry.Direction == domain.DirCredit {
		return cs.AddCredited(ctx, day, entry.Currency, entry.Reason, entry.Amount)
	}
	burned := strings.HasPrefix(entry.Reason, "burn")
	return cs.AddSpent(ctx, day, entry.Currency, entry.Arena, entry.Reason, entry.Amount, burned)
}

func (e *Engine) countApplied(entry *domain.LedgerEntry) {
	observability.MutationsTotal.WithLabelValues(string(entry.Currency), string(entry.Direction), "applied").Inc()
	observability.MutatedAmount.WithLabelValues(string(entry.Currency), string(entry.Direction)).Add(float64(entry.Amount))
}

// ─── Orphan Sweep ───────────────────────────────────────────────────────────

// RepairOrphans completes ledger rows stuck in applied=false longer than
// olderThan. The inline repair-on-retry path already heals these whenever
// the original caller retries; the sweep is a safety net for callers that
// gave up. Returns the number of rows completed.
func (e *Engine) RepairOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := e.now().UTC().Add(-olderThan)
	rows, err := e.store.ListUnappliedBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list unapplied ledger entries: %w", err)
	}

	repaired := 0
	for i := range rows {
		entry := rows[i]
		res, err := e.finishTwoPhase(ctx, &entry)
		if err != nil {
			log.Printf("economy: orphan repair failed for entry %s: %v", entry.ID, err)
			continue
		}
		if res.OK {
			observability.RepairsTotal.Inc()
			repaired++
		}
	}
	return repaired, nil
}
