package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want 127.0.0.1", cfg.API.Host)
	}
	if cfg.API.Port != 8480 {
		t.Errorf("API.Port = %d, want 8480", cfg.API.Port)
	}
	if !cfg.API.Metrics {
		t.Error("API.Metrics = false, want true")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Economy.Strategy != "auto" {
		t.Errorf("Economy.Strategy = %q, want auto", cfg.Economy.Strategy)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[api]
port = 9999

[storage]
driver = "postgres"
dsn = "postgres://localhost/aibarena?sslmode=disable"

[economy]
strategy = "two_phase"
sweep_interval = "1m"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want default preserved", cfg.API.Host)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %q, want postgres", cfg.Storage.Driver)
	}
	if cfg.Economy.Strategy != "two_phase" {
		t.Errorf("Economy.Strategy = %q, want two_phase", cfg.Economy.Strategy)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 8480 {
		t.Errorf("API.Port = %d, want default 8480", cfg.API.Port)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AIBARENA_API_PORT", "7070")
	t.Setenv("AIBARENA_ECONOMY_STRATEGY", "transactional")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070 from env", cfg.API.Port)
	}
	if cfg.Economy.Strategy != "transactional" {
		t.Errorf("Economy.Strategy = %q, want transactional from env", cfg.Economy.Strategy)
	}
}

func TestSweepSettings(t *testing.T) {
	tests := []struct {
		name         string
		interval     string
		age          string
		wantEnabled  bool
		wantInterval time.Duration
		wantAge      time.Duration
	}{
		{"defaults", "5m", "10m", true, 5 * time.Minute, 10 * time.Minute},
		{"disabled when empty", "", "10m", false, 0, 0},
		{"disabled on bad interval", "soon", "10m", false, 0, 0},
		{"bad age falls back", "1m", "eventually", true, time.Minute, 10 * time.Minute},
		{"age default when empty", "1m", "", true, time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := EconomyConfig{SweepInterval: tt.interval, SweepAge: tt.age}
			interval, age, enabled := c.SweepSettings()
			if enabled != tt.wantEnabled {
				t.Fatalf("enabled = %v, want %v", enabled, tt.wantEnabled)
			}
			if interval != tt.wantInterval {
				t.Errorf("interval = %v, want %v", interval, tt.wantInterval)
			}
			if age != tt.wantAge {
				t.Errorf("age = %v, want %v", age, tt.wantAge)
			}
		})
	}
}
