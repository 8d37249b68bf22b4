package domain

// ─── Economy Configuration ──────────────────────────────────────────────────
// A single mutable record owned by operators. It is fetched once per
// operation and threaded through as a value — never held as ambient global
// state — so the window resolver and emission controller stay pure.

// EmissionWindow is a UTC hour range [Start, End) during which emission is
// permitted. Start == 0 && End == 24 means always open; Start == End means
// always closed; Start > End wraps midnight.
type EmissionWindow struct {
	StartHour int `json:"start_hour" toml:"start_hour"`
	EndHour   int `json:"end_hour" toml:"end_hour"`
}

// WindowScopeAll is the wildcard key in the window override table.
const WindowScopeAll = "*"

// EconomyConfig is the operator-owned economy record: daily emission caps
// per currency with optional per-arena and per-(arena,league) overrides,
// and the emission window hierarchy (arena:league) > arena > '*' > default.
type EconomyConfig struct {
	// DefaultWindow applies when no override matches.
	DefaultWindow EmissionWindow `json:"default_window"`

	// Windows maps "arena:league", "arena" or "*" to an override window.
	Windows map[string]EmissionWindow `json:"windows,omitempty"`

	// DailyCaps holds the global per-currency daily emission caps.
	// A missing or non-positive cap means uncapped.
	DailyCaps map[Currency]int64 `json:"daily_caps,omitempty"`

	// ArenaCaps maps currency → arena → cap override.
	ArenaCaps map[Currency]map[string]int64 `json:"arena_caps,omitempty"`

	// LeagueCaps maps currency → "arena:league" → cap override. League
	// overrides win over plain arena overrides.
	LeagueCaps map[Currency]map[string]int64 `json:"league_caps,omitempty"`
}

// ScopeKey builds the "arena:league" lookup key used by override maps.
func ScopeKey(arena, league string) string { return arena + ":" + league }

// DailyCap returns the global daily emission cap for a currency.
// Zero means uncapped.
func (c *EconomyConfig) DailyCap(cur Currency) int64 {
	if c == nil || c.DailyCaps == nil {
		return 0
	}
	cap := c.DailyCaps[cur]
	if cap < 0 {
		return 0
	}
	return cap
}

// ArenaCap resolves the effective per-arena cap for (currency, arena,
// league): the (arena,league) override when set, else the arena override.
// Zero means no arena cap is configured.
func (c *EconomyConfig) ArenaCap(cur Currency, arena, league string) int64 {
	if c == nil || arena == "" {
		return 0
	}
	if league != "" && c.LeagueCaps != nil {
		if m := c.LeagueCaps[cur]; m != nil {
			if cap, ok := m[ScopeKey(arena, league)]; ok && cap > 0 {
				return cap
			}
		}
	}
	if c.ArenaCaps != nil {
		if m := c.ArenaCaps[cur]; m != nil {
			if cap, ok := m[arena]; ok && cap > 0 {
				return cap
			}
		}
	}
	return 0
}

// DefaultEconomyConfig returns the config used before operators have written
// one: emission always open, no caps.
func DefaultEconomyConfig() *EconomyConfig {
	return &EconomyConfig{
		DefaultWindow: EmissionWindow{StartHour: 0, EndHour: 24},
	}
}
