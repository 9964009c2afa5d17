// Package main is the entry point for the bondstock background worker.
// It replays deferred recalculations from the backlog and prunes the
// recalculation journal and expired idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bondstock/internal/app"
	"bondstock/pkg/config"
	"bondstock/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		Service:     "bondstock-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DB.Driver != config.DriverPostgres {
		log.Fatalw("worker requires the postgres storage driver", "driver", cfg.DB.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting bondstock worker")

	stores, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer stores.Close()

	engine := app.NewEngine(stores, cfg)
	maintenance := app.NewMaintenance(stores, engine, cfg.Worker, log)

	// Run a first pass immediately instead of waiting a full poll interval.
	maintenance.ReplayBacklog(ctx)

	if err := maintenance.Run(ctx); err != nil {
		log.Errorw("worker failed", "error", err)
	}
	log.Info("worker stopped")
}
