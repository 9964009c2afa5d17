package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
	"bondstock/pkg/logger"
)

// RedisConfig configures the distributed locker.
type RedisConfig struct {
	// TTL bounds how long a crashed holder keeps the key locked.
	TTL time.Duration
	// RetryInterval is the wait between attempts while the key is held elsewhere.
	RetryInterval time.Duration
	Prefix        string
}

// DefaultRedisConfig returns defaults for a cascade timeout.
func DefaultRedisConfig(cascadeTimeout time.Duration) RedisConfig {
	return RedisConfig{
		TTL:           cascadeTimeout + 30*time.Second,
		RetryInterval: 100 * time.Millisecond,
		Prefix:        "stock:recalc",
	}
}

// RedisLocker serializes cascades across instances through Redis.
type RedisLocker struct {
	client *redislock.Client
	cfg    RedisConfig
}

// NewRedisLocker creates a locker on an existing redis client.
func NewRedisLocker(rdb redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		cfg:    cfg,
	}
}

var _ snapshot.Locker = (*RedisLocker)(nil)

// Key returns the redis key for an item.
func (l *RedisLocker) Key(key entity.ItemKey) string {
	return fmt.Sprintf("%s:%s:%s", l.cfg.Prefix, key.CompanyCode, key.ItemCode)
}

// Lock retries until the key is obtained or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key entity.ItemKey) (func(), error) {
	lk, err := l.client.Obtain(ctx, l.Key(key), l.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.cfg.RetryInterval),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("obtain lock %s: %w", l.Key(key), ctxErr)
		}
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("obtain lock %s: %w", l.Key(key), err)
		}
		return nil, fmt.Errorf("redis lock: %w", err)
	}

	return func() {
		// the cascade ctx may be cancelled by now
		if err := lk.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn(ctx, "failed to release redis lock", "key", l.Key(key), "error", err)
		}
	}, nil
}

// NewRedisClient connects and pings redis.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}
