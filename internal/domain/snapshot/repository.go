// Package snapshot provides the daily stock balance snapshot engine:
// upsert of a single day, forward cascade after back-dated postings,
// availability checks and background dispatch of recalculations.
package snapshot

import (
	"context"
	"time"

	"bondstock/internal/core/entity"
)

// Repository is the snapshot store, keyed by (company, item, date).
type Repository interface {
	// Point reads

	// GetLatestBefore returns the most recent snapshot strictly before date, or nil.
	GetLatestBefore(ctx context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error)

	// GetLatestAtOrBefore returns the most recent snapshot at or before date, or nil.
	GetLatestAtOrBefore(ctx context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error)

	// ListDatesFrom returns snapshot dates >= from in ascending order.
	ListDatesFrom(ctx context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error)

	// Write

	// Upsert inserts or overwrites the row for (company, item, date).
	Upsert(ctx context.Context, s entity.Snapshot) error

	// Reporting

	// ListRange returns snapshots of a company with From <= date <= To,
	// ordered by item code then date.
	ListRange(ctx context.Context, filter RangeFilter) ([]entity.Snapshot, error)

	// ListLatestBefore returns, per item, the latest snapshot strictly before filter.From.
	ListLatestBefore(ctx context.Context, filter RangeFilter) ([]entity.Snapshot, error)
}

// RangeFilter narrows reporting reads.
type RangeFilter struct {
	CompanyCode string
	ItemCodes   []string
	ItemType    string
	From        time.Time
	To          time.Time
}

// Matches reports whether s passes the item filters (dates not checked).
func (f RangeFilter) Matches(s entity.Snapshot) bool {
	if s.CompanyCode != f.CompanyCode {
		return false
	}
	if f.ItemType != "" && s.ItemType != f.ItemType {
		return false
	}
	if len(f.ItemCodes) == 0 {
		return true
	}
	for _, code := range f.ItemCodes {
		if code == s.ItemCode {
			return true
		}
	}
	return false
}

// LedgerReader aggregates posted ledger movements. Implementations must be
// side-effect free and exclude soft-deleted entries.
type LedgerReader interface {
	// Aggregate sums the day's movement for the key; all-zero when nothing was posted.
	Aggregate(ctx context.Context, key entity.ItemKey, date time.Time) (entity.DayAggregate, error)

	// ActivityDatesFrom returns distinct transaction dates >= from carrying
	// at least one live entry, ascending.
	ActivityDatesFrom(ctx context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error)
}

// ItemLookup resolves master data. A missing item must be reported with
// apperror.NewItemNotFound.
type ItemLookup interface {
	GetItem(ctx context.Context, key entity.ItemKey) (*entity.Item, error)
}

// Locker serializes cascades per (company, item).
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context, key entity.ItemKey) (unlock func(), err error)
}

// BacklogEntry is a cascade that could not finish and must resume later.
type BacklogEntry struct {
	entity.ItemKey
	ResumeFrom  time.Time `db:"resume_from"`
	Attempts    int       `db:"attempts"`
	LastError   string    `db:"last_error"`
	NextRetryAt time.Time `db:"next_retry_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Backlog persists resume points of failed cascades.
type Backlog interface {
	// Record stores resumeFrom for key, keeping the earliest date already recorded.
	Record(ctx context.Context, key entity.ItemKey, resumeFrom time.Time, cause error) error

	// Take removes and returns the resume point of key, if any.
	Take(ctx context.Context, key entity.ItemKey) (time.Time, bool, error)

	// ClaimDue leases up to limit entries whose retry time has passed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]BacklogEntry, error)

	// Reschedule moves a claimed entry to resumeFrom and delays it, unless an
	// earlier resume point than claimed.ResumeFrom was recorded meanwhile.
	Reschedule(ctx context.Context, claimed BacklogEntry, resumeFrom time.Time, cause error) error

	// Complete deletes the entry unless an earlier resume point was recorded meanwhile.
	Complete(ctx context.Context, key entity.ItemKey, resumeFrom time.Time) error
}

// Journal records finished cascade runs for operators.
type Journal interface {
	Record(ctx context.Context, run Run) error
}

// NopJournal discards runs.
type NopJournal struct{}

// Record discards run.
func (NopJournal) Record(context.Context, Run) error { return nil }

// History returns no runs.
func (NopJournal) History(context.Context, entity.ItemKey, int) ([]Run, error) { return nil, nil }
