package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
)

// LedgerStore implements ledger.Repository and snapshot.LedgerReader.
type LedgerStore struct {
	mu      sync.RWMutex
	entries map[id.ID]*entity.LedgerEntry
}

// NewLedgerStore creates an empty ledger.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{entries: make(map[id.ID]*entity.LedgerEntry)}
}

var (
	_ ledger.Repository     = (*LedgerStore)(nil)
	_ snapshot.LedgerReader = (*LedgerStore)(nil)
)

func (s *LedgerStore) Create(_ context.Context, e *entity.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		return apperror.NewConflict("ledger entry already exists").WithDetail("id", e.ID.String())
	}
	c := *e
	c.TransactionDate = types.Day(c.TransactionDate)
	s.entries[e.ID] = &c
	return nil
}

func (s *LedgerStore) GetByID(_ context.Context, entryID id.ID) (*entity.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, apperror.NewNotFound("ledger_entry", entryID.String())
	}
	c := *e
	return &c, nil
}

func (s *LedgerStore) SoftDelete(_ context.Context, entryID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.IsDeleted() {
		return apperror.NewNotFound("ledger_entry", entryID.String())
	}
	at = at.UTC()
	e.DeletedAt = &at
	return nil
}

func (s *LedgerStore) SumThrough(_ context.Context, key entity.ItemKey, date time.Time) (types.Quantity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date = types.Day(date)
	var agg entity.DayAggregate
	for _, e := range s.entries {
		if e.ItemKey != key || e.IsDeleted() || e.TransactionDate.After(date) {
			continue
		}
		agg.Add(e.Direction, e.Qty)
	}
	return agg.Net(), nil
}

func (s *LedgerStore) List(_ context.Context, filter ledger.ListFilter) ([]entity.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.LedgerEntry
	for _, e := range s.entries {
		if e.IsDeleted() {
			continue
		}
		if filter.CompanyCode != "" && e.CompanyCode != filter.CompanyCode {
			continue
		}
		if filter.ItemCode != "" && e.ItemCode != filter.ItemCode {
			continue
		}
		if filter.From != nil && e.TransactionDate.Before(types.Day(*filter.From)) {
			continue
		}
		if filter.To != nil && e.TransactionDate.After(types.Day(*filter.To)) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *LedgerStore) Aggregate(_ context.Context, key entity.ItemKey, date time.Time) (entity.DayAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	date = types.Day(date)
	var agg entity.DayAggregate
	for _, e := range s.entries {
		if e.ItemKey == key && !e.IsDeleted() && e.TransactionDate.Equal(date) {
			agg.Add(e.Direction, e.Qty)
		}
	}
	return agg, nil
}

func (s *LedgerStore) ActivityDatesFrom(_ context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from = types.Day(from)
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, e := range s.entries {
		if e.ItemKey != key || e.IsDeleted() || e.TransactionDate.Before(from) {
			continue
		}
		if _, ok := seen[e.TransactionDate]; ok {
			continue
		}
		seen[e.TransactionDate] = struct{}{}
		dates = append(dates, e.TransactionDate)
	}
	sortDates(dates)
	return dates, nil
}
