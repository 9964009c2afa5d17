package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
	"bondstock/pkg/logger"
)

// AdvisoryLocker serializes cascades across instances with session-level
// PostgreSQL advisory locks. Each held lock pins one pool connection.
type AdvisoryLocker struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewAdvisoryLocker creates a locker on pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, prefix: "stock:recalc"}
}

var _ snapshot.Locker = (*AdvisoryLocker)(nil)

// Key returns the string hashed into the advisory lock id.
func (l *AdvisoryLocker) Key(key entity.ItemKey) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, key.CompanyCode, key.ItemCode)
}

// Lock blocks in pg_advisory_lock until the key is held or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key entity.ItemKey) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	name := l.Key(key)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", name); err != nil {
		conn.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("advisory lock %s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("advisory lock %s: %w", name, err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", name); err != nil {
			logger.Warn(ctx, "failed to release advisory lock", "key", name, "error", err)
			// closing the session drops every lock it holds
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}
