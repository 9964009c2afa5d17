// Package app wires storage, locking and the recalculation engine from
// configuration. It is shared by the server, worker and seed commands.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	corenumerator "bondstock/internal/core/numerator"
	"bondstock/internal/core/tx"
	"bondstock/internal/domain/items"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/cache"
	"bondstock/internal/infrastructure/http/v1/handlers"
	"bondstock/internal/infrastructure/lock"
	"bondstock/internal/infrastructure/numerator"
	"bondstock/internal/infrastructure/storage/memory"
	"bondstock/internal/infrastructure/storage/postgres"
	"bondstock/internal/infrastructure/storage/postgres/catalog_repo"
	"bondstock/internal/infrastructure/storage/postgres/stock_repo"
	"bondstock/pkg/config"
	"bondstock/pkg/logger"
)

// LedgerStore is the ledger repository together with its aggregate reads.
type LedgerStore interface {
	ledger.Repository
	snapshot.LedgerReader
}

// BacklogStore is the backlog with operator listing.
type BacklogStore interface {
	snapshot.Backlog
	List(ctx context.Context, limit int) ([]snapshot.BacklogEntry, error)
}

// Stores holds the selected storage backend.
type Stores struct {
	Driver    string
	Items     items.Repository
	Ledger    LedgerStore
	Snapshots snapshot.Repository
	Backlog   BacklogStore
	Journal   snapshot.Journal
	History   handlers.RunHistory
	Tx        tx.ReadOnlyManager
	Locker    snapshot.Locker
	Numerator corenumerator.Generator
	Checks    map[string]handlers.ReadinessCheck

	// Set for the postgres driver only.
	Pool        *postgres.Pool
	TxManager   *postgres.TxManager
	JournalRepo *postgres.Journal
	Idempotency *postgres.IdempotencyStore
	ItemCache   *cache.ItemCache

	closers []func()
}

// Open connects the storage backend and the cascade locker selected by cfg.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	var (
		s   *Stores
		err error
	)
	switch cfg.DB.Driver {
	case config.DriverMemory:
		s = openMemory(cfg)
	case config.DriverPostgres:
		s, err = openPostgres(ctx, cfg)
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.DB.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.openLocker(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	log.Infow("storage opened",
		"driver", s.Driver,
		"locker", fmt.Sprintf("%T", s.Locker),
	)
	return s, nil
}

func openMemory(cfg *config.Config) *Stores {
	return &Stores{
		Driver:    config.DriverMemory,
		Items:     memory.NewItemStore(),
		Ledger:    memory.NewLedgerStore(),
		Snapshots: memory.NewSnapshotStore(),
		Backlog:   memory.NewBacklogStore(cfg.Worker.BacklogRetry),
		Journal:   snapshot.NopJournal{},
		History:   snapshot.NopJournal{},
		Tx:        tx.Passthrough{},
		Numerator: numerator.NewMemory(),
		Checks:    map[string]handlers.ReadinessCheck{},
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*Stores, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.DatabaseURL)
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DB.MaxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	txm := postgres.NewTxManager(pool)
	journal, err := postgres.NewJournal(txm, 0)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sequences := numerator.New(func(ctx context.Context) numerator.Querier {
		return txm.GetQuerier(ctx)
	})

	s := &Stores{
		Driver:      config.DriverPostgres,
		Items:       catalog_repo.NewItemRepo(txm),
		Ledger:      stock_repo.NewLedgerRepo(txm),
		Snapshots:   stock_repo.NewSnapshotRepo(txm),
		Backlog:     postgres.NewBacklogStore(txm, cfg.Worker.BacklogRetry, 0),
		Journal:     journal,
		History:     journal,
		Tx:          txm,
		Numerator:   sequences,
		Checks:      map[string]handlers.ReadinessCheck{"database": pool},
		Pool:        pool,
		TxManager:   txm,
		JournalRepo: journal,
		Idempotency: postgres.NewIdempotencyStore(txm, cfg.Ledger.IdempotencyTTL),
		closers:     []func(){pool.Close},
	}

	if cfg.DB.ItemCacheTTL > 0 {
		s.ItemCache = cache.NewItemCache(s.Items, pool.Unwrap(), cfg.DB.ItemCacheTTL)
		s.ItemCache.Start(ctx)
		s.Items = s.ItemCache
		s.closers = append(s.closers, s.ItemCache.Stop)
	}
	return s, nil
}

// openLocker picks redis, then postgres advisory locks, then an in-process mutex.
func (s *Stores) openLocker(ctx context.Context, cfg *config.Config) error {
	switch {
	case cfg.Redis.Enabled():
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis.Address, cfg.Redis.Password)
		if err != nil {
			return err
		}
		s.Locker = lock.NewRedisLocker(rdb, lock.DefaultRedisConfig(cfg.Recalc.CascadeTimeout))
		s.Checks["redis"] = redisCheck{rdb}
		s.closers = append(s.closers, func() { _ = rdb.Close() })

	case s.Pool != nil && cfg.Recalc.AdvisoryLock:
		s.Locker = lock.NewAdvisoryLocker(s.Pool.Unwrap())

	default:
		s.Locker = lock.NewKeyedMutex()
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

type redisCheck struct {
	client *redis.Client
}

func (c redisCheck) Ready(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
