// Package main is the entry point for the bondstock API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bondstock/internal/app"
	v1 "bondstock/internal/infrastructure/http/v1"
	"bondstock/pkg/config"
	"bondstock/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		Service:     "bondstock-server",
		Version:     version,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Infow("starting bondstock server", "version", version, "driver", cfg.DB.Driver)

	stores, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	engine := app.NewEngine(stores, cfg)

	if stores.Driver == config.DriverMemory && (cfg.Seed.ItemsFile != "" || cfg.Seed.LedgerFile != "") {
		if err := app.NewImporter(stores, engine).ImportFiles(ctx, cfg.Seed.ItemsFile, cfg.Seed.LedgerFile); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
	}

	routerCfg := v1.RouterConfig{
		Logger:       log,
		Development:  cfg.App.IsDevelopment(),
		Version:      version,
		HealthChecks: stores.Checks,
		Ledger:       engine.Ledger,
		Reports:      engine.Reports,
		Stock:        engine.StockDeps(stores),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	}
	if stores.Idempotency != nil {
		routerCfg.Idempotency = stores.Idempotency
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      v1.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The dispatcher outlives the HTTP server so queued cascades can drain.
	workCtx, cancelWork := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancelWork()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Dispatcher.Run(workCtx)
	})

	// Without a separate worker process the memory backlog is replayed here.
	if stores.Driver == config.DriverMemory {
		maintenance := app.NewMaintenance(stores, engine, cfg.Worker, log)
		g.Go(func() error {
			return maintenance.Run(gctx)
		})
	}

	g.Go(func() error {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorw("server forced to shutdown", "error", err)
		}
		if err := engine.Dispatcher.Drain(shutdownCtx); err != nil {
			log.Warnw("recalculations still pending at shutdown",
				"pending", engine.Dispatcher.Pending(), "error", err)
		}
		cancelWork()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
