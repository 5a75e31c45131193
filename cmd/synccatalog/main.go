// Command synccatalog runs a single catalog refresh against every enabled
// aggregator source and exits. Useful from cron or CI.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/database"
	"github.com/modelrelay/modelrelay/internal/keypool"
	"github.com/modelrelay/modelrelay/internal/modelsync"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	st := store.New(dbPool)
	factory := providers.NewFactory(providers.BuildOptions{
		ConnectTimeout:   cfg.Server.ProviderTimeout,
		DefaultMaxTokens: cfg.Providers.BedrockDefaultMaxTokens,
	})
	pool := keypool.New(st, logger)

	syncer := modelsync.New(st, factory, pool, logger)
	if err := syncer.SyncAll(ctx); err != nil {
		log.Fatalf("catalog sync failed: %v", err)
	}
	logger.Info("catalog sync complete")
}
