package economy

import (
	"testing"
	"time"

	"github.com/aibarena/aibarena/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Emission Window Tests
// ═══════════════════════════════════════════════════════════════════════════

func atHour(h int) time.Time {
	return time.Date(2026, 8, 30, h, 30, 0, 0, time.UTC)
}

func TestIsEmissionOpen_NormalRange(t *testing.T) {
	cfg := &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 8, EndHour: 20},
	}

	tests := []struct {
		hour int
		want bool
	}{
		{7, false},  // before start
		{8, true},   // start is inclusive
		{13, true},  // middle
		{19, true},  // last open hour
		{20, false}, // end is exclusive
		{23, false}, // after end
	}
	for _, tt := range tests {
		if got := IsEmissionOpen(cfg, "", "", atHour(tt.hour)); got != tt.want {
			t.Errorf("IsEmissionOpen(hour=%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestIsEmissionOpen_WrapsMidnight(t *testing.T) {
	cfg := &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 22, EndHour: 6},
	}

	tests := []struct {
		hour int
		want bool
	}{
		{21, false},
		{22, true}, // evening side
		{23, true},
		{0, true}, // morning side
		{5, true},
		{6, false}, // end is exclusive
		{12, false},
	}
	for _, tt := range tests {
		if got := IsEmissionOpen(cfg, "", "", atHour(tt.hour)); got != tt.want {
			t.Errorf("IsEmissionOpen(hour=%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestIsEmissionOpen_AlwaysOpenAndAlwaysClosed(t *testing.T) {
	open := &domain.EconomyConfig{DefaultWindow: domain.EmissionWindow{StartHour: 0, EndHour: 24}}
	closed := &domain.EconomyConfig{DefaultWindow: domain.EmissionWindow{StartHour: 9, EndHour: 9}}

	for hour := 0; hour < 24; hour++ {
		if !IsEmissionOpen(open, "", "", atHour(hour)) {
			t.Errorf("[0,24) closed at hour %d, want open", hour)
		}
		if IsEmissionOpen(closed, "", "", atHour(hour)) {
			t.Errorf("[9,9) open at hour %d, want closed", hour)
		}
	}
}

func TestIsEmissionOpen_NilConfigIsOpen(t *testing.T) {
	if !IsEmissionOpen(nil, "colosseum", "gold", atHour(3)) {
		t.Error("nil config should be always open")
	}
}

func TestResolveEmissionWindow_Hierarchy(t *testing.T) {
	cfg := &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 0, EndHour: 24},
		Windows: map[string]domain.EmissionWindow{
			"*":              {StartHour: 6, EndHour: 22},
			"colosseum":      {StartHour: 8, EndHour: 20},
			"colosseum:gold": {StartHour: 10, EndHour: 18},
		},
	}

	tests := []struct {
		name   string
		arena  string
		league string
		want   domain.EmissionWindow
	}{
		{"league override wins", "colosseum", "gold", domain.EmissionWindow{StartHour: 10, EndHour: 18}},
		{"arena override next", "colosseum", "silver", domain.EmissionWindow{StartHour: 8, EndHour: 20}},
		{"wildcard for unknown arena", "pit", "gold", domain.EmissionWindow{StartHour: 6, EndHour: 22}},
		{"wildcard with no arena", "", "", domain.EmissionWindow{StartHour: 6, EndHour: 22}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveEmissionWindow(cfg, tt.arena, tt.league)
			if got != tt.want {
				t.Errorf("ResolveEmissionWindow(%q, %q) = %+v, want %+v", tt.arena, tt.league, got, tt.want)
			}
		})
	}
}

func TestResolveEmissionWindow_DefaultWhenNoOverrides(t *testing.T) {
	cfg := &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: 7, EndHour: 23},
	}
	got := ResolveEmissionWindow(cfg, "colosseum", "gold")
	if got.StartHour != 7 || got.EndHour != 23 {
		t.Errorf("window = %+v, want [7,23)", got)
	}
}

func TestResolveEmissionWindow_ClampsHours(t *testing.T) {
	cfg := &domain.EconomyConfig{
		DefaultWindow: domain.EmissionWindow{StartHour: -3, EndHour: 99},
	}
	got := ResolveEmissionWindow(cfg, "", "")
	if got.StartHour != 0 || got.EndHour != 24 {
		t.Errorf("window = %+v, want clamped to [0,24)", got)
	}
}
