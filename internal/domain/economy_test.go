package domain

import (
	"testing"
	"time"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want Currency
	}{
		{"aiba", AIBA},
		{" NEUR ", NEUR},
		{"Stars", STARS},
		{"gems", Currency("GEMS")}, // unknown currencies pass through
	}
	for _, tt := range tests {
		if got := ParseCurrency(tt.in); got != tt.want {
			t.Errorf("ParseCurrency(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDayKey_UTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 8, 30, 23, 30, 0, 0, loc)
	if got := DayKey(at); got != "2026-08-31" {
		t.Errorf("DayKey() = %q, want 2026-08-31", got)
	}
}

func TestLedgerEntry_Idempotent(t *testing.T) {
	e := &LedgerEntry{SourceType: "battle", SourceID: "b-1"}
	if !e.Idempotent() {
		t.Error("entry with full provenance should be idempotent")
	}
	for _, partial := range []*LedgerEntry{
		{SourceType: "battle"},
		{SourceID: "b-1"},
		{},
	} {
		if partial.Idempotent() {
			t.Errorf("entry %+v should not be idempotent", partial)
		}
	}
}

func TestEconomyConfig_DailyCap(t *testing.T) {
	cfg := &EconomyConfig{DailyCaps: map[Currency]int64{AIBA: 1000, NEUR: -1}}

	if got := cfg.DailyCap(AIBA); got != 1000 {
		t.Errorf("DailyCap(AIBA) = %d, want 1000", got)
	}
	if got := cfg.DailyCap(STARS); got != 0 {
		t.Errorf("DailyCap(STARS) = %d, want 0 (uncapped)", got)
	}
	if got := cfg.DailyCap(NEUR); got != 0 {
		t.Errorf("DailyCap(NEUR) = %d, want 0 (negative treated as uncapped)", got)
	}
}

func TestEconomyConfig_ArenaCap(t *testing.T) {
	cfg := &EconomyConfig{
		ArenaCaps: map[Currency]map[string]int64{
			AIBA: {"colosseum": 200},
		},
		LeagueCaps: map[Currency]map[string]int64{
			AIBA: {"colosseum:gold": 50},
		},
	}

	if got := cfg.ArenaCap(AIBA, "colosseum", "gold"); got != 50 {
		t.Errorf("league override = %d, want 50", got)
	}
	if got := cfg.ArenaCap(AIBA, "colosseum", "silver"); got != 200 {
		t.Errorf("arena fallback = %d, want 200", got)
	}
	if got := cfg.ArenaCap(AIBA, "pit", "gold"); got != 0 {
		t.Errorf("unknown arena = %d, want 0", got)
	}
	if got := cfg.ArenaCap(AIBA, "", ""); got != 0 {
		t.Errorf("empty arena = %d, want 0", got)
	}
}
