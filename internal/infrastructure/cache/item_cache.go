// Package cache provides caching infrastructure with PostgreSQL LISTEN/NOTIFY support.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/items"
	"bondstock/pkg/logger"
)

// ItemsChannel is notified by the inv_items trigger with the changed key as
// JSON: {"companyCode": "...", "itemCode": "..."}.
const ItemsChannel = "inv_items_changed"

// ItemCache caches item master rows in front of an items.Repository.
// Ledger posting and every cascade day read the item, while items change
// rarely. With a pool, Start listens on ItemsChannel so writes from other
// instances invalidate the cached key; ttl bounds staleness otherwise.
type ItemCache struct {
	repo items.Repository
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[entity.ItemKey]cachedItem

	hits   atomic.Uint64
	misses atomic.Uint64

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

type cachedItem struct {
	item      entity.Item
	expiresAt time.Time
}

// NewItemCache wraps repo. pool may be nil, in which case only ttl expires entries.
func NewItemCache(repo items.Repository, pool *pgxpool.Pool, ttl time.Duration) *ItemCache {
	return &ItemCache{
		repo:    repo,
		pool:    pool,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[entity.ItemKey]cachedItem),
	}
}

var _ items.Repository = (*ItemCache)(nil)

// GetItem returns the cached item or loads it. Misses are not cached.
func (c *ItemCache) GetItem(ctx context.Context, key entity.ItemKey) (*entity.Item, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		c.hits.Add(1)
		item := e.item
		return &item, nil
	}
	c.misses.Add(1)

	item, err := c.repo.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedItem{item: *item, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return item, nil
}

// Upsert writes through and drops the cached key.
func (c *ItemCache) Upsert(ctx context.Context, item entity.Item) error {
	if err := c.repo.Upsert(ctx, item); err != nil {
		return err
	}
	c.Invalidate(item.ItemKey)
	return nil
}

// UpsertBatch writes through using the repository's batch path when it has one.
func (c *ItemCache) UpsertBatch(ctx context.Context, list []entity.Item) error {
	if batcher, ok := c.repo.(interface {
		UpsertBatch(ctx context.Context, list []entity.Item) error
	}); ok {
		if err := batcher.UpsertBatch(ctx, list); err != nil {
			return err
		}
	} else {
		for _, item := range list {
			if err := c.repo.Upsert(ctx, item); err != nil {
				return err
			}
		}
	}

	c.mu.Lock()
	for _, item := range list {
		delete(c.entries, item.ItemKey)
	}
	c.mu.Unlock()
	return nil
}

// ListByCompany is not cached.
func (c *ItemCache) ListByCompany(ctx context.Context, companyCode string) ([]entity.Item, error) {
	return c.repo.ListByCompany(ctx, companyCode)
}

// Invalidate drops one key.
func (c *ItemCache) Invalidate(key entity.ItemKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *ItemCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[entity.ItemKey]cachedItem)
	c.mu.Unlock()
}

// Start begins listening for item changes. It is a no-op without a pool.
func (c *ItemCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "item cache started", "ttl", c.ttl)
}

// Stop ends the listener and waits for it to exit.
func (c *ItemCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
	logger.Info(context.Background(), "item cache stopped")
}

func (c *ItemCache) listenLoop() {
	defer c.wg.Done()

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+ItemsChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "channel", ItemsChannel, "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Changes made while no listener was attached were missed.
		c.InvalidateAll()
		logger.Info(c.ctx, "listening for item notifications", "channel", ItemsChannel)

		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *ItemCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		if c.ctx.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if conn.Conn().IsClosed() {
				logger.Warn(c.ctx, "LISTEN connection lost, reconnecting")
				return
			}
			continue
		}

		c.handleNotification(notification.Payload)
	}
}

// handleNotification drops the notified key; an unreadable payload drops everything.
func (c *ItemCache) handleNotification(payload string) {
	var key entity.ItemKey
	if err := json.Unmarshal([]byte(payload), &key); err != nil || key.IsZero() {
		logger.Debug(c.ctx, "item notification without key, clearing cache", "payload", payload)
		c.InvalidateAll()
		return
	}
	c.Invalidate(key)
}

func (c *ItemCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Stats returns current cache statistics.
func (c *ItemCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
