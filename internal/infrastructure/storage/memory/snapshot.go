// Package memory provides in-process stores for STORAGE_DRIVER=memory and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
)

// SnapshotStore implements snapshot.Repository.
type SnapshotStore struct {
	mu   sync.RWMutex
	rows map[entity.ItemKey]map[time.Time]entity.Snapshot
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{rows: make(map[entity.ItemKey]map[time.Time]entity.Snapshot)}
}

var _ snapshot.Repository = (*SnapshotStore)(nil)

func (s *SnapshotStore) GetLatestBefore(_ context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error) {
	return s.latest(key, func(d time.Time) bool { return d.Before(types.Day(date)) }), nil
}

func (s *SnapshotStore) GetLatestAtOrBefore(_ context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error) {
	return s.latest(key, func(d time.Time) bool { return !d.After(types.Day(date)) }), nil
}

func (s *SnapshotStore) latest(key entity.ItemKey, match func(time.Time) bool) *entity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *entity.Snapshot
	for d, row := range s.rows[key] {
		if !match(d) {
			continue
		}
		if best == nil || d.After(best.SnapshotDate) {
			r := row
			best = &r
		}
	}
	return best
}

func (s *SnapshotStore) ListDatesFrom(_ context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from = types.Day(from)
	var dates []time.Time
	for d := range s.rows[key] {
		if !d.Before(from) {
			dates = append(dates, d)
		}
	}
	sortDates(dates)
	return dates, nil
}

func (s *SnapshotStore) Upsert(_ context.Context, snap entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.SnapshotDate = types.Day(snap.SnapshotDate)
	byDate, ok := s.rows[snap.ItemKey]
	if !ok {
		byDate = make(map[time.Time]entity.Snapshot)
		s.rows[snap.ItemKey] = byDate
	}
	byDate[snap.SnapshotDate] = snap
	return nil
}

func (s *SnapshotStore) ListRange(_ context.Context, filter snapshot.RangeFilter) ([]entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := types.Day(filter.From), types.Day(filter.To)
	var out []entity.Snapshot
	for _, byDate := range s.rows {
		for d, row := range byDate {
			if d.Before(from) || d.After(to) || !filter.Matches(row) {
				continue
			}
			out = append(out, row)
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (s *SnapshotStore) ListLatestBefore(_ context.Context, filter snapshot.RangeFilter) ([]entity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := types.Day(filter.From)
	var out []entity.Snapshot
	for _, byDate := range s.rows {
		var best *entity.Snapshot
		for d, row := range byDate {
			if !d.Before(from) || !filter.Matches(row) {
				continue
			}
			if best == nil || d.After(best.SnapshotDate) {
				r := row
				best = &r
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	sortSnapshots(out)
	return out, nil
}

// All returns every row of key in date order. Test helper.
func (s *SnapshotStore) All(key entity.ItemKey) []entity.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Snapshot, 0, len(s.rows[key]))
	for _, row := range s.rows[key] {
		out = append(out, row)
	}
	sortSnapshots(out)
	return out
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}

func sortSnapshots(rows []entity.Snapshot) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CompanyCode != rows[j].CompanyCode {
			return rows[i].CompanyCode < rows[j].CompanyCode
		}
		if rows[i].ItemCode != rows[j].ItemCode {
			return rows[i].ItemCode < rows[j].ItemCode
		}
		return rows[i].SnapshotDate.Before(rows[j].SnapshotDate)
	})
}
