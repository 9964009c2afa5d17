package app

import (
	"bondstock/internal/core/numerator"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/reports"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/http/v1/handlers"
	"bondstock/pkg/config"
)

// Engine is the recalculation engine with the services built on it.
type Engine struct {
	Upserter     *snapshot.Upserter
	Recalculator *snapshot.Recalculator
	Dispatcher   *snapshot.Dispatcher
	Replayer     *snapshot.Replayer
	Checker      *snapshot.AvailabilityChecker
	Ledger       *ledger.Service
	Reports      *reports.Service
}

// NewEngine builds the engine on s. Ledger writes trigger the dispatcher,
// which must be started with Dispatcher.Run.
func NewEngine(s *Stores, cfg *config.Config) *Engine {
	e := &Engine{}

	e.Upserter = snapshot.NewUpserter(s.Snapshots, s.Ledger, s.Items)
	e.Recalculator = snapshot.NewRecalculator(e.Upserter, s.Snapshots, s.Ledger, s.Locker, s.Journal,
		snapshot.CascadeConfig{
			MaxChainDays: cfg.Recalc.MaxChainDays,
			Timeout:      cfg.Recalc.CascadeTimeout,
		})

	e.Dispatcher = snapshot.NewDispatcher(e.Recalculator, s.Backlog, snapshot.DispatcherConfig{
		Workers:      cfg.Recalc.Workers,
		MaxRetries:   cfg.Recalc.MaxRetries,
		RetryBackoff: cfg.Recalc.RetryBackoff,
	})
	e.Replayer = snapshot.NewReplayer(s.Backlog, e.Recalculator, cfg.Worker.BatchSize)

	e.Checker = snapshot.NewAvailabilityChecker(s.Snapshots)
	e.Ledger = ledger.NewService(s.Ledger, s.Items, e.Checker, e.Dispatcher, s.Tx, ledger.Config{
		AllowNegativeStock: cfg.Ledger.AllowNegativeStock,
		Numerator:          s.Numerator,
		CountNumbering:     numerator.DefaultConfig(cfg.Ledger.StockCountPrefix),
	})
	e.Reports = reports.NewService(s.Snapshots, s.Tx)

	return e
}

// StockDeps returns the stock handler dependencies.
func (e *Engine) StockDeps(s *Stores) handlers.StockDeps {
	return handlers.StockDeps{
		Ledger:    e.Ledger,
		Checker:   e.Checker,
		Snapshots: s.Snapshots,
		Cascader:  e.Recalculator,
		Trigger:   e.Dispatcher,
		Backlog:   s.Backlog,
		Pending:   e.Dispatcher,
		History:   s.History,
	}
}
