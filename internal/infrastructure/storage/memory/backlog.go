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

// BacklogStore implements snapshot.Backlog.
type BacklogStore struct {
	mu      sync.Mutex
	entries map[entity.ItemKey]*snapshot.BacklogEntry
	leased  map[entity.ItemKey]time.Time
	retry   time.Duration
	lease   time.Duration
	now     func() time.Time
}

// NewBacklogStore creates an empty backlog. retry is the base delay before
// an entry becomes due again.
func NewBacklogStore(retry time.Duration) *BacklogStore {
	return &BacklogStore{
		entries: make(map[entity.ItemKey]*snapshot.BacklogEntry),
		leased:  make(map[entity.ItemKey]time.Time),
		retry:   retry,
		lease:   5 * time.Minute,
		now:     time.Now,
	}
}

var _ snapshot.Backlog = (*BacklogStore)(nil)

func (s *BacklogStore) Record(_ context.Context, key entity.ItemKey, resumeFrom time.Time, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	resumeFrom = types.Day(resumeFrom)

	e, ok := s.entries[key]
	if !ok {
		e = &snapshot.BacklogEntry{ItemKey: key, ResumeFrom: resumeFrom}
		s.entries[key] = e
	}
	e.ResumeFrom = types.MinDay(e.ResumeFrom, resumeFrom)
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.NextRetryAt = now.Add(snapshot.RetryDelay(s.retry, e.Attempts))
	e.UpdatedAt = now
	delete(s.leased, key)
	return nil
}

func (s *BacklogStore) Take(_ context.Context, key entity.ItemKey) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false, nil
	}
	delete(s.entries, key)
	delete(s.leased, key)
	return e.ResumeFrom, true, nil
}

func (s *BacklogStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]snapshot.BacklogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []snapshot.BacklogEntry
	for key, e := range s.entries {
		if e.NextRetryAt.After(now) {
			continue
		}
		if until, ok := s.leased[key]; ok && until.After(now) {
			continue
		}
		due = append(due, *e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, e := range due {
		s.leased[e.ItemKey] = now.Add(s.lease)
	}
	return due, nil
}

func (s *BacklogStore) Reschedule(_ context.Context, claimed snapshot.BacklogEntry, resumeFrom time.Time, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	delete(s.leased, claimed.ItemKey)

	e, ok := s.entries[claimed.ItemKey]
	if !ok {
		e = &snapshot.BacklogEntry{ItemKey: claimed.ItemKey, ResumeFrom: types.Day(resumeFrom), Attempts: claimed.Attempts}
		s.entries[claimed.ItemKey] = e
	} else if !e.ResumeFrom.Before(claimed.ResumeFrom) {
		e.ResumeFrom = types.Day(resumeFrom)
	}
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.NextRetryAt = now.Add(snapshot.RetryDelay(s.retry, e.Attempts))
	e.UpdatedAt = now
	return nil
}

func (s *BacklogStore) Complete(_ context.Context, key entity.ItemKey, resumeFrom time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.leased, key)
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.ResumeFrom.Before(types.Day(resumeFrom)) {
		return nil
	}
	delete(s.entries, key)
	return nil
}

// Len returns the number of entries. Test helper.
func (s *BacklogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// List returns pending entries ordered by next retry.
func (s *BacklogStore) List(_ context.Context, limit int) ([]snapshot.BacklogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]snapshot.BacklogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
