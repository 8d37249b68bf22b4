// Package economy implements the game's accounting core: balance credits
// and debits with at-most-once application, daily emission caps per
// currency/arena/league, and per-day counter bookkeeping.
//
// Correctness does not rely on any in-process mutex or external lock
// manager. It comes from three store primitives:
//  1. single-statement atomic conditional updates (guarded increments),
//  2. the ledger uniqueness constraint acting as a distributed claim,
//  3. multi-statement transactions where the backend supports them.
package economy

import (
	"time"

	"github.com/aibarena/aibarena/internal/domain"
)

// ─── Emission Window Resolution ─────────────────────────────────────────────
// Pure and deterministic given now — testable without wall-clock mocking.

// ResolveEmissionWindow resolves the emission window for (arena, league):
// an exact "arena:league" override wins, then the arena override, then the
// wildcard, then the global default. Hours are clamped to [0, 24].
func ResolveEmissionWindow(cfg *domain.EconomyConfig, arena, league string) domain.EmissionWindow {
	w := domain.EmissionWindow{StartHour: 0, EndHour: 24}
	if cfg != nil {
		w = cfg.DefaultWindow
		if cfg.Windows != nil {
			if ow, ok := cfg.Windows[domain.WindowScopeAll]; ok {
				w = ow
			}
			if ow, ok := cfg.Windows[arena]; ok && arena != "" {
				w = ow
			}
			if ow, ok := cfg.Windows[domain.ScopeKey(arena, league)]; ok && arena != "" && league != "" {
				w = ow
			}
		}
	}
	return domain.EmissionWindow{
		StartHour: clampHour(w.StartHour),
		EndHour:   clampHour(w.EndHour),
	}
}

// IsEmissionOpen reports whether emission is permitted for (arena, league)
// at the given instant. The window is the UTC hour range [start, end):
// start==0 && end==24 is always open, start==end is always closed, and
// start > end wraps midnight (open when hour >= start OR hour < end).
func IsEmissionOpen(cfg *domain.EconomyConfig, arena, league string, now time.Time) bool {
	w := ResolveEmissionWindow(cfg, arena, league)
	hour := now.UTC().Hour()

	switch {
	case w.StartHour == 0 && w.EndHour == 24:
		return true
	case w.StartHour == w.EndHour:
		return false
	case w.StartHour > w.EndHour:
		return hour >= w.StartHour || hour < w.EndHour
	default:
		return hour >= w.StartHour && hour < w.EndHour
	}
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 24 {
		return 24
	}
	return h
}
