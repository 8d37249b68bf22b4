package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aibarena/aibarena/internal/api"
	"github.com/aibarena/aibarena/internal/app/economy"
	"github.com/aibarena/aibarena/internal/domain"
	"github.com/aibarena/aibarena/internal/infra/postgres"
	"github.com/aibarena/aibarena/internal/infra/sqlite"
)

// OpenStore opens the storage backend selected by cfg.
func OpenStore(cfg StorageConfig) (domain.EconomyStore, io.Closer, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case "postgres":
		db, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Run starts the daemon and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	store, closer, err := OpenStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closer.Close()

	engine := economy.NewEngine(store, economy.Options{
		Strategy: economy.Strategy(cfg.Economy.Strategy),
	})

	server := api.NewServer(engine)
	if cfg.API.Metrics {
		server.EnableMetrics()
	}

	if interval, age, enabled := cfg.Economy.SweepSettings(); enabled {
		go sweepLoop(ctx, engine, interval, age)
	}

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("daemon: economy API listening on %s (driver=%s)", addr, cfg.Storage.Driver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// sweepLoop periodically completes orphaned two-phase ledger rows. The
// inline repair-on-retry path is the primary recovery mechanism; this loop
// is the safety net for callers that stopped retrying.
func sweepLoop(ctx context.Context, engine *economy.Engine, interval, age time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := engine.RepairOrphans(ctx, age, 200)
			if err != nil {
				log.Printf("daemon: orphan sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("daemon: orphan sweep repaired %d ledger entries", n)
			}
		}
	}
}
