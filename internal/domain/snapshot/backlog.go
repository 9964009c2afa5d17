package snapshot

import (
	"context"
	"time"

	"bondstock/internal/core/types"
	"bondstock/pkg/logger"
)

const maxRetryDelay = time.Hour

// RetryDelay returns the wait before the attempts-th retry: base doubled
// per attempt, capped at one hour. Shared by the dispatcher and the backlog.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// Replayer re-runs cascades recorded in the backlog.
type Replayer struct {
	backlog  Backlog
	cascader Cascader
	batch    int
}

// NewReplayer creates a backlog replayer claiming up to batch entries per pass.
func NewReplayer(backlog Backlog, cascader Cascader, batch int) *Replayer {
	if batch <= 0 {
		batch = 50
	}
	return &Replayer{
		backlog:  backlog,
		cascader: cascader,
		batch:    batch,
	}
}

// ReplayDue claims due entries and re-runs each from its resume date.
// It returns how many entries completed.
func (r *Replayer) ReplayDue(ctx context.Context, now time.Time) (int, error) {
	entries, err := r.backlog.ClaimDue(ctx, now, r.batch)
	if err != nil {
		return 0, storeError(ctx, "claim backlog", err)
	}

	completed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		_, err := r.cascader.RecalculateFrom(ctx, e.ItemKey, e.ResumeFrom)
		if err != nil {
			resume := e.ResumeFrom
			if ce, ok := AsCascadeError(err); ok {
				resume = ce.ResumeFrom
			}
			if rErr := r.backlog.Reschedule(context.WithoutCancel(ctx), e, resume, err); rErr != nil {
				logger.Error(ctx, "failed to reschedule backlog entry", "key", e.ItemKey.String(), "error", rErr)
			}
			logger.Warn(ctx, "backlog replay failed",
				"key", e.ItemKey.String(),
				"resume_from", resume.Format(types.DateLayout),
				"attempts", e.Attempts+1,
				"error", err)
			continue
		}

		if err := r.backlog.Complete(ctx, e.ItemKey, e.ResumeFrom); err != nil {
			logger.Error(ctx, "failed to complete backlog entry", "key", e.ItemKey.String(), "error", err)
			continue
		}
		completed++
	}

	return completed, nil
}
