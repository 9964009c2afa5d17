package app

import (
	"context"
	"time"

	"bondstock/pkg/config"
	"bondstock/pkg/logger"
)

const cleanupInterval = time.Hour

// Maintenance replays the recalculation backlog and prunes old journal
// rows and idempotency keys.
type Maintenance struct {
	stores *Stores
	engine *Engine
	cfg    config.WorkerConfig
	log    *logger.Logger
}

// NewMaintenance creates the maintenance loop.
func NewMaintenance(stores *Stores, engine *Engine, cfg config.WorkerConfig, log *logger.Logger) *Maintenance {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Maintenance{
		stores: stores,
		engine: engine,
		cfg:    cfg,
		log:    log.WithComponent("maintenance"),
	}
}

// Run blocks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	m.log.Infow("maintenance started",
		"poll_interval", m.cfg.PollInterval,
		"batch_size", m.cfg.BatchSize,
	)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("maintenance stopped")
			return nil
		case <-ticker.C:
			m.ReplayBacklog(ctx)
		case <-cleanupTicker.C:
			m.Cleanup(ctx)
		}
	}
}

// ReplayBacklog runs one pass over due backlog entries.
func (m *Maintenance) ReplayBacklog(ctx context.Context) int {
	completed, err := m.engine.Replayer.ReplayDue(ctx, time.Now().UTC())
	if err != nil {
		m.log.Errorw("backlog replay failed", "error", err)
	}
	if completed > 0 {
		m.log.Infow("backlog entries replayed", "count", completed)
	}
	return completed
}

// Cleanup reports cache and pool usage and removes expired journal rows
// and idempotency keys.
func (m *Maintenance) Cleanup(ctx context.Context) {
	if m.stores.ItemCache != nil {
		stats := m.stores.ItemCache.Stats()
		m.log.Debugw("item cache stats", "entries", stats.Entries, "hits", stats.Hits, "misses", stats.Misses)
	}
	if m.stores.Pool != nil {
		stats := m.stores.Pool.Stats()
		m.log.Infow("database pool stats",
			"total", stats.TotalConns,
			"acquired", stats.AcquiredConns,
			"idle", stats.IdleConns,
			"max", stats.MaxConns,
			"empty_acquires", stats.EmptyAcquires,
		)
	}

	if m.stores.JournalRepo != nil && m.cfg.JournalRetention > 0 {
		cutoff := time.Now().UTC().Add(-m.cfg.JournalRetention)
		n, err := m.stores.JournalRepo.Cleanup(ctx, cutoff)
		if err != nil {
			m.log.Errorw("journal cleanup failed", "error", err)
		} else if n > 0 {
			m.log.Infow("cleaned up recalculation journal", "count", n)
		}
	}

	if m.stores.Idempotency != nil {
		n, err := m.stores.Idempotency.CleanupExpired(ctx)
		if err != nil {
			m.log.Errorw("idempotency cleanup failed", "error", err)
		} else if n > 0 {
			m.log.Infow("cleaned up idempotency keys", "count", n)
		}
	}
}
