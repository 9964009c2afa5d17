package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/pkg/logger"
)

var tracer = otel.Tracer("bondstock/snapshot")

// ErrChainLimit is the cause of a CascadeError stopped by MaxChainDays.
var ErrChainLimit = errors.New("cascade chain limit reached")

// CascadeConfig bounds a single cascade run.
type CascadeConfig struct {
	// MaxChainDays caps the dates processed per run. 0 means unlimited.
	MaxChainDays int
	// Timeout is the deadline of a run including lock wait. 0 means none.
	Timeout time.Duration
}

// DefaultCascadeConfig returns production defaults.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		MaxChainDays: 3660,
		Timeout:      2 * time.Minute,
	}
}

// CascadeResult lists what a run recomputed, ascending by date.
type CascadeResult struct {
	Key       entity.ItemKey
	Start     time.Time
	Affected  []time.Time
	Snapshots []entity.Snapshot
}

// CascadeError is returned when a cascade stops before the last date.
// Every date before ResumeFrom is already consistent; re-running from
// ResumeFrom (or from the original start) converges.
type CascadeError struct {
	Key        entity.ItemKey
	Start      time.Time
	ResumeFrom time.Time
	Affected   []time.Time
	Err        error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade %s from %s stopped at %s: %v",
		e.Key, e.Start.Format(types.DateLayout), e.ResumeFrom.Format(types.DateLayout), e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}

// AsCascadeError extracts a CascadeError from the error chain.
func AsCascadeError(err error) (*CascadeError, bool) {
	var ce *CascadeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Recalculator propagates a back-dated change forward through every later snapshot.
type Recalculator struct {
	upserter *Upserter
	repo     Repository
	ledger   LedgerReader
	locker   Locker
	journal  Journal
	cfg      CascadeConfig
}

// NewRecalculator creates a cascade recalculator. A nil journal discards runs.
func NewRecalculator(upserter *Upserter, repo Repository, ledger LedgerReader, locker Locker, journal Journal, cfg CascadeConfig) *Recalculator {
	if journal == nil {
		journal = NopJournal{}
	}
	return &Recalculator{
		upserter: upserter,
		repo:     repo,
		ledger:   ledger,
		locker:   locker,
		journal:  journal,
		cfg:      cfg,
	}
}

// RecalculateFrom recomputes the snapshots of key on start and on every later
// date that has a snapshot or ledger activity, strictly ascending.
// Runs for the same key are serialized by the Locker.
func (r *Recalculator) RecalculateFrom(ctx context.Context, key entity.ItemKey, start time.Time) (CascadeResult, error) {
	start = types.Day(start)
	result := CascadeResult{Key: key, Start: start}
	began := time.Now()

	ctx, span := tracer.Start(ctx, "snapshot.cascade",
		trace.WithAttributes(
			attribute.String("stock.company", key.CompanyCode),
			attribute.String("stock.item", key.ItemCode),
			attribute.String("stock.start", start.Format(types.DateLayout)),
		))
	defer span.End()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	err := r.cascade(ctx, key, start, &result)

	span.SetAttributes(attribute.Int("stock.affected", len(result.Affected)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	r.record(ctx, result, err, began)
	return result, err
}

func (r *Recalculator) cascade(ctx context.Context, key entity.ItemKey, start time.Time, result *CascadeResult) error {
	fail := func(at time.Time, cause error) error {
		return &CascadeError{
			Key:        key,
			Start:      start,
			ResumeFrom: at,
			Affected:   result.Affected,
			Err:        cause,
		}
	}

	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return fail(start, storeError(ctx, "acquire cascade lock", err))
	}
	defer unlock()

	item, err := r.upserter.lookupItem(ctx, key)
	if err != nil {
		return fail(start, err)
	}

	dates, err := r.collectDates(ctx, key, start)
	if err != nil {
		return fail(start, err)
	}

	prev, err := r.repo.GetLatestBefore(ctx, key, start)
	if err != nil {
		return fail(start, storeError(ctx, "get previous snapshot", err))
	}
	var opening types.Quantity
	if prev != nil {
		opening = prev.ClosingBalance
	}

	for i, date := range dates {
		if r.cfg.MaxChainDays > 0 && i >= r.cfg.MaxChainDays {
			logger.Warn(ctx, "cascade chain limit reached",
				"key", key.String(), "limit", r.cfg.MaxChainDays, "resume_from", date.Format(types.DateLayout))
			return fail(date, ErrChainLimit)
		}
		if err := ctx.Err(); err != nil {
			logger.Warn(ctx, "cascade aborted", "key", key.String(), "at", date.Format(types.DateLayout), "error", err)
			return fail(date, err)
		}

		// No snapshot can exist between two consecutive dates of the set,
		// so the previous closing is the opening of this date.
		snap, err := r.upserter.write(ctx, *item, date, opening)
		if err != nil {
			return fail(date, err)
		}

		opening = snap.ClosingBalance
		result.Affected = append(result.Affected, date)
		result.Snapshots = append(result.Snapshots, snap)
	}

	return nil
}

// collectDates returns {start} ∪ snapshot dates >= start ∪ activity dates >= start, ascending.
func (r *Recalculator) collectDates(ctx context.Context, key entity.ItemKey, start time.Time) ([]time.Time, error) {
	snapDates, err := r.repo.ListDatesFrom(ctx, key, start)
	if err != nil {
		return nil, storeError(ctx, "list snapshot dates", err)
	}
	activity, err := r.ledger.ActivityDatesFrom(ctx, key, start)
	if err != nil {
		return nil, storeError(ctx, "list activity dates", err)
	}

	seen := make(map[time.Time]struct{}, len(snapDates)+len(activity)+1)
	dates := make([]time.Time, 0, len(snapDates)+len(activity)+1)
	add := func(d time.Time) {
		d = types.Day(d)
		if d.Before(start) {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}

	add(start)
	for _, d := range snapDates {
		add(d)
	}
	for _, d := range activity {
		add(d)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (r *Recalculator) record(ctx context.Context, result CascadeResult, err error, began time.Time) {
	run := Run{
		Key:       result.Key,
		Start:     result.Start,
		Affected:  len(result.Affected),
		Snapshots: result.Snapshots,
		StartedAt: began.UTC(),
		Duration:  time.Since(began),
		Status:    RunCompleted,
	}
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		if ce, ok := AsCascadeError(err); ok {
			run.ResumeFrom = &ce.ResumeFrom
			if errors.Is(err, ErrChainLimit) {
				run.Status = RunPartial
			}
		}
	}

	logger.Info(ctx, "cascade finished",
		"key", result.Key.String(),
		"start", result.Start.Format(types.DateLayout),
		"affected", run.Affected,
		"status", run.Status,
		"duration", run.Duration,
	)

	// the run ctx may already be past its deadline
	if jErr := r.journal.Record(context.WithoutCancel(ctx), run); jErr != nil {
		logger.Warn(ctx, "failed to record cascade run", "key", result.Key.String(), "error", jErr)
	}
}
