package economy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aibarena/aibarena/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Emission Controller Tests
// ═══════════════════════════════════════════════════════════════════════════

func saveConfig(t *testing.T, store domain.EconomyStore, cfg *domain.EconomyConfig) {
	t.Helper()
	if err := store.SaveEconomyConfig(context.Background(), cfg); err != nil {
		t.Fatalf("SaveEconomyConfig() error: %v", err)
	}
}

func TestTryEmit_GlobalCap(t *testing.T) {
	engine, db := newTestEngine(t, StrategyAuto)
	ctx := context.Background()
	saveConfig(t, db, &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 0, EndHour: 24},
		DailyCaps:     map[domain.Currency]int64{domain.AIBA: 1000},
	})

	res, err := engine.TryEmit(ctx, domain.AIBA, 500, "colosseum", "")
	if err != nil {
		t.Fatalf("TryEmit() error: %v", err)
	}
	if !res.OK {
		t.Fatalf("res = %+v, want granted", res)
	}

	// 500 + 600 would land at 1100 > 1000: rejected, counter stays at 500.
	res, err = engine.TryEmit(ctx, domain.AIBA, 600, "colosseum", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("over-cap emission granted")
	}
	if res.Failure != domain.FailCapExceeded {
		t.Errorf("Failure = %q, want %q", res.Failure, domain.FailCapExceeded)
	}

	totals, err := db.DayTotals(ctx, domain.DayKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if got := totals.Totals[domain.AIBA].Emitted; got != 500 {
		t.Errorf("emitted = %d, want 500", got)
	}

	// A smaller grant that exactly reaches the cap still fits.
	res, err = engine.TryEmit(ctx, domain.AIBA, 500, "colosseum", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Errorf("exact-fit emission rejected: %+v", res)
	}
}

func TestTryEmit_ArenaCapOverride(t *testing.T) {
	engine, db := newTestEngine(t, StrategyAuto)
	ctx := context.Background()
	saveConfig(t, db, &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 0, EndHour: 24},
		DailyCaps:     map[domain.Currency]int64{domain.AIBA: 1000},
		ArenaCaps: map[domain.Currency]map[string]int64{
			domain.AIBA: {"colosseum": 100},
		},
		LeagueCaps: map[domain.Currency]map[string]int64{
			domain.AIBA: {"colosseum:gold": 50},
		},
	})

	// League cap (50) wins over the arena cap (100).
	res, err := engine.TryEmit(ctx, domain.AIBA, 60, "colosseum", "gold")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Error("60 granted against league cap 50")
	}
	res, err = engine.TryEmit(ctx, domain.AIBA, 60, "colosseum", "silver")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Errorf("60 rejected against arena cap 100: %+v", res)
	}

	// Another arena is only bounded by the global cap.
	res, err = engine.TryEmit(ctx, domain.AIBA, 500, "pit", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Errorf("emission in uncapped arena rejected: %+v", res)
	}
}

func TestTryEmit_WindowClosed(t *testing.T) {
	fixed := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	engine, db := newTestEngine(t, StrategyAuto)
	engineAt := NewEngine(engine.Store(), Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()
	saveConfig(t, db, &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 8, EndHour: 20},
	})

	res, err := engineAt.TryEmit(ctx, domain.AIBA, 100, "colosseum", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("emission granted outside the window")
	}
	if res.Failure != domain.FailWindowClosed {
		t.Errorf("Failure = %q, want %q", res.Failure, domain.FailWindowClosed)
	}

	// No counter movement for a window rejection.
	totals, err := db.DayTotals(ctx, domain.DayKey(fixed))
	if err != nil {
		t.Fatal(err)
	}
	if got := totals.Totals[domain.AIBA].Emitted; got != 0 {
		t.Errorf("emitted = %d, want 0", got)
	}
}

func TestTryEmit_ZeroAmountIsNoop(t *testing.T) {
	engine, _ := newTestEngine(t, StrategyAuto)

	res, err := engine.TryEmit(context.Background(), domain.AIBA, 0, "colosseum", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Errorf("res = %+v, want OK no-op", res)
	}
}

func TestTryEmit_ConcurrentNeverExceedsCap(t *testing.T) {
	engine, db := newTestEngine(t, StrategyAuto)
	ctx := context.Background()
	saveConfig(t, db, &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 0, EndHour: 24},
		DailyCaps:     map[domain.Currency]int64{domain.AIBA: 1000},
	})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.TryEmit(ctx, domain.AIBA, 100, "colosseum", "")
			if err != nil {
				t.Errorf("TryEmit() error: %v", err)
				return
			}
			if res.OK {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 10 {
		t.Errorf("granted = %d, want exactly 10 of 20", got)
	}
	totals, err := db.DayTotals(ctx, domain.DayKey(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if got := totals.Totals[domain.AIBA].Emitted; got != 1000 {
		t.Errorf("emitted = %d, want 1000 (never exceeds the cap)", got)
	}
}
