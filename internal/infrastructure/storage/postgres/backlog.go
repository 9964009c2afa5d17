package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
)

const backlogTable = "inv_recalc_backlog"

var backlogColumns = ExtractDBColumns[snapshot.BacklogEntry]()

// BacklogStore persists resume points of failed cascades in inv_recalc_backlog.
// Claimed rows are leased so that concurrent workers skip them.
type BacklogStore struct {
	txm     *TxManager
	builder squirrel.StatementBuilderType
	retry   time.Duration
	lease   time.Duration
	now     func() time.Time
}

// NewBacklogStore creates a backlog store. retry is the base delay before a
// recorded entry becomes due; lease bounds how long a claim hides a row.
func NewBacklogStore(txm *TxManager, retry, lease time.Duration) *BacklogStore {
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &BacklogStore{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		retry:   retry,
		lease:   lease,
		now:     time.Now,
	}
}

var _ snapshot.Backlog = (*BacklogStore)(nil)

func keyWhere(key entity.ItemKey) squirrel.Eq {
	return squirrel.Eq{"company_code": key.CompanyCode, "item_code": key.ItemCode}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// lockedEntry loads the row of key FOR UPDATE. Must run inside a transaction.
func (s *BacklogStore) lockedEntry(ctx context.Context, key entity.ItemKey) (*snapshot.BacklogEntry, error) {
	sql, args, err := s.builder.Select(backlogColumns...).
		From(backlogTable).
		Where(keyWhere(key)).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e snapshot.BacklogEntry
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get backlog entry: %w", err)
	}
	return &e, nil
}

func (s *BacklogStore) save(ctx context.Context, e *snapshot.BacklogEntry) error {
	sql, args, err := s.builder.Insert(backlogTable).
		Columns(append(backlogColumns, "leased_until")...).
		Values(e.CompanyCode, e.ItemCode, types.Day(e.ResumeFrom), e.Attempts,
			e.LastError, e.NextRetryAt, e.UpdatedAt, nil).
		Suffix(`ON CONFLICT (company_code, item_code) DO UPDATE SET
			resume_from = EXCLUDED.resume_from,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at = EXCLUDED.updated_at,
			leased_until = NULL`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("save backlog entry: %w", err)
	}
	return nil
}

// Record stores resumeFrom for key, keeping the earliest date already recorded.
func (s *BacklogStore) Record(ctx context.Context, key entity.ItemKey, resumeFrom time.Time, cause error) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		e, err := s.lockedEntry(ctx, key)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if e == nil {
			e = &snapshot.BacklogEntry{ItemKey: key, ResumeFrom: types.Day(resumeFrom)}
		}
		e.ResumeFrom = types.MinDay(e.ResumeFrom, resumeFrom)
		e.Attempts++
		if cause != nil {
			e.LastError = errText(cause)
		}
		e.NextRetryAt = now.Add(snapshot.RetryDelay(s.retry, e.Attempts))
		e.UpdatedAt = now
		return s.save(ctx, e)
	})
}

// Take removes and returns the resume point of key.
func (s *BacklogStore) Take(ctx context.Context, key entity.ItemKey) (time.Time, bool, error) {
	sql, args, err := s.builder.Delete(backlogTable).
		Where(keyWhere(key)).
		Suffix("RETURNING resume_from").
		ToSql()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build delete: %w", err)
	}

	var resumeFrom time.Time
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &resumeFrom, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("take backlog entry: %w", err)
	}
	return types.Day(resumeFrom), true, nil
}

func (s *BacklogStore) claimQuery(now time.Time, limit int) squirrel.UpdateBuilder {
	due := s.builder.Select("company_code", "item_code").
		From(backlogTable).
		Where(squirrel.LtOrEq{"next_retry_at": now}).
		Where(squirrel.Or{
			squirrel.Eq{"leased_until": nil},
			squirrel.LtOrEq{"leased_until": now},
		}).
		OrderBy("next_retry_at").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")

	return s.builder.Update(backlogTable).
		Set("leased_until", now.Add(s.lease)).
		Where(squirrel.Expr("(company_code, item_code) IN (?)", due)).
		Suffix("RETURNING " + joinColumns(backlogColumns))
}

// ClaimDue leases up to limit entries whose retry time has passed.
func (s *BacklogStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]snapshot.BacklogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	sql, args, err := s.claimQuery(now.UTC(), limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim: %w", err)
	}

	var entries []snapshot.BacklogEntry
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("claim backlog: %w", err)
	}
	for i := range entries {
		entries[i].ResumeFrom = types.Day(entries[i].ResumeFrom)
	}
	return entries, nil
}

// Reschedule moves a claimed entry to resumeFrom unless an earlier resume
// point was recorded after the claim.
func (s *BacklogStore) Reschedule(ctx context.Context, claimed snapshot.BacklogEntry, resumeFrom time.Time, cause error) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		e, err := s.lockedEntry(ctx, claimed.ItemKey)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		switch {
		case e == nil:
			e = &snapshot.BacklogEntry{
				ItemKey:    claimed.ItemKey,
				ResumeFrom: types.Day(resumeFrom),
				Attempts:   claimed.Attempts,
			}
		case !e.ResumeFrom.Before(claimed.ResumeFrom):
			e.ResumeFrom = types.Day(resumeFrom)
		}
		e.Attempts++
		if cause != nil {
			e.LastError = errText(cause)
		}
		e.NextRetryAt = now.Add(snapshot.RetryDelay(s.retry, e.Attempts))
		e.UpdatedAt = now
		return s.save(ctx, e)
	})
}

// Complete deletes the entry unless an earlier resume point was recorded meanwhile.
func (s *BacklogStore) Complete(ctx context.Context, key entity.ItemKey, resumeFrom time.Time) error {
	sql, args, err := s.builder.Delete(backlogTable).
		Where(keyWhere(key)).
		Where(squirrel.GtOrEq{"resume_from": types.Day(resumeFrom)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("complete backlog entry: %w", err)
	}
	return nil
}

// List returns pending entries ordered by next retry, for operators.
func (s *BacklogStore) List(ctx context.Context, limit int) ([]snapshot.BacklogEntry, error) {
	q := s.builder.Select(backlogColumns...).
		From(backlogTable).
		OrderBy("next_retry_at")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []snapshot.BacklogEntry
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	return entries, nil
}
