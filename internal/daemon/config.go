// Package daemon wires the economy engine into a long-running process:
// file/env configuration, storage backend selection, the HTTP API server
// and the optional orphan sweep loop.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration, loaded from TOML with environment
// variable overrides applied on top.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Economy EconomyConfig `toml:"economy"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host    string `toml:"host" env:"AIBARENA_API_HOST"`
	Port    int    `toml:"port" env:"AIBARENA_API_PORT"`
	Metrics bool   `toml:"metrics" env:"AIBARENA_API_METRICS"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" env:"AIBARENA_STORAGE_DRIVER"`
	// Path is the SQLite database file (sqlite driver).
	Path string `toml:"path" env:"AIBARENA_STORAGE_PATH"`
	// DSN is the Postgres connection string (postgres driver).
	DSN string `toml:"dsn" env:"AIBARENA_STORAGE_DSN"`
}

// EconomyConfig tunes the engine.
type EconomyConfig struct {
	// Strategy is "auto", "transactional" or "two_phase".
	Strategy string `toml:"strategy" env:"AIBARENA_ECONOMY_STRATEGY"`
	// SweepInterval is how often the orphan sweep runs ("" disables it).
	SweepInterval string `toml:"sweep_interval" env:"AIBARENA_ECONOMY_SWEEP_INTERVAL"`
	// SweepAge is how long a row must sit unapplied before the sweep
	// completes it.
	SweepAge string `toml:"sweep_age" env:"AIBARENA_ECONOMY_SWEEP_AGE"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8480,
			Metrics: true,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   defaultDBPath(),
		},
		Economy: EconomyConfig{
			Strategy:      "auto",
			SweepInterval: "5m",
			SweepAge:      "10m",
		},
	}
}

// LoadConfig reads path (when it exists) over the defaults, then applies
// environment variable overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment overrides: %w", err)
	}
	return cfg, nil
}

// DefaultConfigPath returns ~/.aibarena/config.toml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".aibarena", "config.toml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "aibarena.db"
	}
	return filepath.Join(home, ".aibarena", "aibarena.db")
}

// SweepSettings parses the sweep tuning, reporting enabled=false when the
// interval is empty or invalid.
func (c EconomyConfig) SweepSettings() (interval, age time.Duration, enabled bool) {
	if c.SweepInterval == "" {
		return 0, 0, false
	}
	interval, err := time.ParseDuration(c.SweepInterval)
	if err != nil || interval <= 0 {
		return 0, 0, false
	}
	age = 10 * time.Minute
	if c.SweepAge != "" {
		if parsed, err := time.ParseDuration(c.SweepAge); err == nil && parsed > 0 {
			age = parsed
		}
	}
	return interval, age, true
}
