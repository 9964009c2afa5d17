// Package main imports item master data and historical ledger entries from
// CSV files, and can rebuild the snapshots of a company from a given date.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bondstock/internal/app"
	"bondstock/internal/core/types"
	"bondstock/pkg/config"
	"bondstock/pkg/logger"
)

func main() {
	itemsFile := flag.String("items", "", "Items CSV (defaults to SEED_ITEMS_FILE)")
	ledgerFile := flag.String("ledger", "", "Ledger CSV (defaults to SEED_LEDGER_FILE)")
	rebuildCompany := flag.String("rebuild-company", "", "Optional: recalculate every item of this company")
	rebuildFrom := flag.String("rebuild-from", "", "Rebuild start date (YYYY-MM-DD), required with --rebuild-company")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: true,
		Service:     "bondstock-seed",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DB.Driver != config.DriverPostgres {
		log.Fatalw("seed requires the postgres storage driver", "driver", cfg.DB.Driver)
	}

	if *itemsFile == "" {
		*itemsFile = cfg.Seed.ItemsFile
	}
	if *ledgerFile == "" {
		*ledgerFile = cfg.Seed.LedgerFile
	}

	ctx := logger.WithLogger(context.Background(), log)

	stores, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer stores.Close()

	engine := app.NewEngine(stores, cfg)

	if *itemsFile != "" || *ledgerFile != "" {
		if err := app.NewImporter(stores, engine).ImportFiles(ctx, *itemsFile, *ledgerFile); err != nil {
			log.Fatalw("import failed", "error", err)
		}
	}

	if company := strings.TrimSpace(*rebuildCompany); company != "" {
		from, err := types.ParseDay(strings.TrimSpace(*rebuildFrom))
		if err != nil {
			log.Fatalw("invalid --rebuild-from", "value", *rebuildFrom, "error", err)
		}
		if err := rebuild(ctx, stores, engine, company, from); err != nil {
			log.Fatalw("rebuild failed", "company_code", company, "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

// rebuild recalculates every item of the company. Keys that fail are logged
// and left for the worker via the backlog.
func rebuild(ctx context.Context, stores *app.Stores, engine *app.Engine, company string, from time.Time) error {
	list, err := stores.Items.ListByCompany(ctx, company)
	if err != nil {
		return err
	}

	failed := 0
	for _, item := range list {
		res, err := engine.Recalculator.RecalculateFrom(ctx, item.ItemKey, from)
		if err != nil {
			failed++
			logger.Warn(ctx, "item rebuild failed", "key", item.ItemKey.String(), "error", err)
			if bErr := stores.Backlog.Record(ctx, item.ItemKey, from, err); bErr != nil {
				logger.Error(ctx, "failed to record recalculation backlog", "key", item.ItemKey.String(), "error", bErr)
			}
			continue
		}
		logger.Info(ctx, "item rebuilt", "key", item.ItemKey.String(), "snapshots", len(res.Snapshots))
	}

	logger.Info(ctx, "rebuild finished", "company_code", company, "items", len(list), "failed", failed)
	return nil
}
