// Package cli implements the aibarena command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aibarena/aibarena/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "aibarena",
	Short: "AIBArena economy daemon and operator tools",
	Long: `aibarena runs the game's economy engine: balance credits and debits
with at-most-once application, daily emission caps per currency and arena,
and per-day counter reporting.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", daemon.DefaultConfigPath(),
		"Path to the TOML configuration file")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(configPath)
}
