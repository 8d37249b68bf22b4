package economy

import (
	"context"
	"fmt"

	"github.com/aibarena/aibarena/internal/domain"
	"github.com/aibarena/aibarena/internal/infra/observability"
)

// ─── Emission Controller ────────────────────────────────────────────────────
// Emission is the creation of new reward-currency supply. Spends and burns
// are never capped; only emission goes through this gate.

// TryEmit checks whether amount units of currency may be emitted into
// (arena, league) right now, and reserves the capacity if so.
//
// The capacity check and the counter increment are the same atomic store
// operation: the global emitted total is incremented only if the
// post-increment value stays within the global daily cap, and — when an
// arena cap is configured — the arena sub-counter likewise, rejected as a
// unit with zero partial increments. Concurrent calls for the same
// day/currency/arena serialize purely through that atomicity; there is no
// locking here.
//
// TryEmit never mutates balances. After a grant the caller must still
// invoke Credit to pay the user.
func (e *Engine) TryEmit(ctx context.Context, c domain.Currency, amount int64, arena, league string) (domain.EmissionResult, error) {
	if amount <= 0 {
		return domain.EmissionResult{OK: true}, nil
	}

	cfg, err := e.store.EconomyConfig(ctx)
	if err != nil {
		observability.EmissionAttempts.WithLabelValues(string(c), "error").Inc()
		return domain.EmissionResult{}, fmt.Errorf("load economy config: %w", err)
	}

	now := e.now()
	if !IsEmissionOpen(cfg, arena, league, now) {
		observability.EmissionAttempts.WithLabelValues(string(c), "window_closed").Inc()
		return domain.EmissionResult{Failure: domain.FailWindowClosed}, nil
	}

	day := domain.DayKey(now)
	globalCap := cfg.DailyCap(c)
	arenaCap := cfg.ArenaCap(c, arena, league)

	ok, err := e.store.TryAddEmitted(ctx, day, c, arena, amount, globalCap, arenaCap)
	if err != nil {
		observability.EmissionAttempts.WithLabelValues(string(c), "error").Inc()
		return domain.EmissionResult{}, fmt.Errorf("reserve emission capacity: %w", err)
	}
	if !ok {
		observability.EmissionAttempts.WithLabelValues(string(c), "cap_exceeded").Inc()
		return domain.EmissionResult{Failure: domain.FailCapExceeded}, nil
	}

	observability.EmissionAttempts.WithLabelValues(string(c), "granted").Inc()
	observability.EmittedAmount.WithLabelValues(string(c)).Add(float64(amount))
	return domain.EmissionResult{OK: true}, nil
}
