package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/infrastructure/storage/memory"
)

var rawKey = entity.NewItemKey("BW01", "RM-001")

func newTestCache(t *testing.T) (*ItemCache, *memory.ItemStore, *time.Time) {
	t.Helper()
	repo := memory.NewItemStore(entity.Item{ItemKey: rawKey, ItemType: "RAW", ItemName: "Copper wire", UOM: "KG"})

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := NewItemCache(repo, nil, time.Minute)
	c.now = func() time.Time { return now }
	return c, repo, &now
}

func TestItemCache_HitAfterMiss(t *testing.T) {
	c, repo, _ := newTestCache(t)
	ctx := context.Background()

	item, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Copper wire", item.ItemName)

	// a write that bypasses the cache is not seen until invalidation
	require.NoError(t, repo.Upsert(ctx, entity.Item{ItemKey: rawKey, ItemType: "RAW", ItemName: "Renamed", UOM: "KG"}))

	item, err = c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Copper wire", item.ItemName)

	stats := c.Stats()
	assert.Equal(t, CacheStats{Entries: 1, Hits: 1, Misses: 1}, stats)

	c.Invalidate(rawKey)
	item, err = c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", item.ItemName)
}

func TestItemCache_ReturnsCopies(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	item, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	item.ItemName = "mutated"

	again, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Copper wire", again.ItemName)
}

func TestItemCache_TTLExpiry(t *testing.T) {
	c, repo, now := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, entity.Item{ItemKey: rawKey, ItemType: "FG"}))

	*now = now.Add(2 * time.Minute)

	item, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "FG", item.ItemType)
}

func TestItemCache_MissIsNotCached(t *testing.T) {
	c, repo, _ := newTestCache(t)
	ctx := context.Background()
	key := entity.NewItemKey("BW01", "NEW")

	_, err := c.GetItem(ctx, key)
	assert.True(t, apperror.IsItemNotFound(err))

	require.NoError(t, repo.Upsert(ctx, entity.Item{ItemKey: key, ItemType: "RAW"}))

	_, err = c.GetItem(ctx, key)
	assert.NoError(t, err)
}

func TestItemCache_WritesInvalidate(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)

	require.NoError(t, c.Upsert(ctx, entity.Item{ItemKey: rawKey, ItemType: "RAW", ItemName: "Via cache"}))
	item, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Via cache", item.ItemName)

	require.NoError(t, c.UpsertBatch(ctx, []entity.Item{{ItemKey: rawKey, ItemType: "RAW", ItemName: "Via batch"}}))
	item, err = c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "Via batch", item.ItemName)
}

func TestItemCache_HandleNotification(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.ctx = context.Background()
	ctx := context.Background()
	other := entity.NewItemKey("BW01", "RM-002")

	_, err := c.GetItem(ctx, rawKey)
	require.NoError(t, err)
	c.mu.Lock()
	c.entries[other] = cachedItem{item: entity.Item{ItemKey: other}, expiresAt: c.now().Add(time.Hour)}
	c.mu.Unlock()

	c.handleNotification(`{"companyCode":"BW01","itemCode":"RM-001"}`)
	assert.Equal(t, 1, c.Stats().Entries, "only the notified key is dropped")

	c.handleNotification("garbage")
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestItemCache_StartWithoutPoolIsNoop(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Start(context.Background())
	c.Stop()

	assert.False(t, c.started)
}
