package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aibarena/aibarena/internal/daemon"
	"github.com/aibarena/aibarena/internal/domain"
)

// ─── Operator Commands ──────────────────────────────────────────────────────
// These open the store directly (no running daemon required) and print
// JSON, so they compose with jq in operator scripts.

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(countersCmd)
	rootCmd.AddCommand(econConfigCmd)
	econConfigCmd.AddCommand(econConfigShowCmd)

	countersCmd.Flags().String("day", "", "UTC day YYYY-MM-DD (default: today)")
}

var balanceCmd = &cobra.Command{
	Use:   "balance TELEGRAM_ID",
	Short: "Show an account's balances",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store domain.EconomyStore) error {
		balances, err := store.GetBalances(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"telegram_id": args[0],
			"balances":    balances,
		})
	})
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Show a day's emission/spend counters",
	RunE:  runCounters,
}

func runCounters(cmd *cobra.Command, args []string) error {
	day, _ := cmd.Flags().GetString("day")
	if day == "" {
		day = domain.DayKey(time.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("day must be YYYY-MM-DD, got %q", day)
	}
	return withStore(func(ctx context.Context, store domain.EconomyStore) error {
		totals, err := store.DayTotals(ctx, day)
		if err != nil {
			return err
		}
		return printJSON(totals)
	})
}

var econConfigCmd = &cobra.Command{
	Use:   "econ-config",
	Short: "Inspect the economy configuration",
}

var econConfigShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active caps and emission windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store domain.EconomyStore) error {
			cfg, err := store.EconomyConfig(ctx)
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

func withStore(fn func(ctx context.Context, store domain.EconomyStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closer, err := daemon.OpenStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, store)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
