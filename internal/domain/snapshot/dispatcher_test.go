package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/storage/memory"
)

type call struct {
	key   entity.ItemKey
	start time.Time
}

// fakeCascader records calls and can hold runs open or fail them.
type fakeCascader struct {
	mu      sync.Mutex
	calls   []call
	active  map[entity.ItemKey]int
	overlap bool
	hold    chan struct{}
	started chan entity.ItemKey
	fail    func(n int, key entity.ItemKey, start time.Time) error
}

func newFakeCascader() *fakeCascader {
	return &fakeCascader{
		active:  make(map[entity.ItemKey]int),
		started: make(chan entity.ItemKey, 64),
	}
}

func (c *fakeCascader) RecalculateFrom(_ context.Context, key entity.ItemKey, start time.Time) (snapshot.CascadeResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{key: key, start: start})
	n := len(c.calls)
	c.active[key]++
	if c.active[key] > 1 {
		c.overlap = true
	}
	hold, fail := c.hold, c.fail
	c.mu.Unlock()

	c.started <- key
	if hold != nil {
		<-hold
	}

	c.mu.Lock()
	c.active[key]--
	c.mu.Unlock()

	if fail != nil {
		if err := fail(n, key, start); err != nil {
			return snapshot.CascadeResult{Key: key, Start: start}, err
		}
	}
	return snapshot.CascadeResult{Key: key, Start: start}, nil
}

func (c *fakeCascader) snapshotCalls() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func startDispatcher(t *testing.T, d *snapshot.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func drain(t *testing.T, d *snapshot.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
}

func TestDispatcher_CoalescesPendingTriggers(t *testing.T) {
	c := newFakeCascader()
	d := snapshot.NewDispatcher(c, nil, snapshot.DispatcherConfig{Workers: 2})

	// queued before workers start: merged into one run from the earliest date
	d.Trigger(testKey, day(5))
	d.Trigger(testKey, day(2))
	d.Trigger(testKey, day(9))

	startDispatcher(t, d)
	drain(t, d)

	calls := c.snapshotCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, day(2), calls[0].start)
}

func TestDispatcher_TriggerWhileRunningQueuesOneFollowUp(t *testing.T) {
	c := newFakeCascader()
	c.hold = make(chan struct{})
	d := snapshot.NewDispatcher(c, nil, snapshot.DispatcherConfig{Workers: 4})
	startDispatcher(t, d)

	d.Trigger(testKey, day(5))
	<-c.started

	d.Trigger(testKey, day(7))
	d.Trigger(testKey, day(3))
	d.Trigger(testKey, day(6))

	close(c.hold)
	drain(t, d)

	calls := c.snapshotCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, day(5), calls[0].start)
	assert.Equal(t, day(3), calls[1].start)
	assert.False(t, c.overlap, "same key must never run concurrently")
}

func TestDispatcher_DifferentKeysRunInParallel(t *testing.T) {
	c := newFakeCascader()
	c.hold = make(chan struct{})
	d := snapshot.NewDispatcher(c, nil, snapshot.DispatcherConfig{Workers: 2})
	startDispatcher(t, d)

	other := entity.NewItemKey("C1", "RM-02")
	d.Trigger(testKey, day(1))
	d.Trigger(other, day(1))

	got := map[entity.ItemKey]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-c.started:
			got[k] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second key did not start while first was running")
		}
	}
	close(c.hold)
	drain(t, d)

	assert.True(t, got[testKey])
	assert.True(t, got[other])
}

func TestDispatcher_RetriesTransientFromResumePoint(t *testing.T) {
	c := newFakeCascader()
	c.fail = func(n int, key entity.ItemKey, start time.Time) error {
		if n == 1 {
			return &snapshot.CascadeError{
				Key: key, Start: start, ResumeFrom: day(4),
				Err: apperror.NewTransientStore("upsert snapshot", errStoreDown),
			}
		}
		return nil
	}
	backlog := memory.NewBacklogStore(time.Minute)
	d := snapshot.NewDispatcher(c, backlog, snapshot.DispatcherConfig{
		Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond,
	})
	startDispatcher(t, d)

	d.Trigger(testKey, day(2))
	drain(t, d)

	calls := c.snapshotCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, day(2), calls[0].start)
	assert.Equal(t, day(4), calls[1].start)
	assert.Equal(t, 0, backlog.Len())
}

func TestDispatcher_ExhaustedRetriesGoToBacklog(t *testing.T) {
	c := newFakeCascader()
	c.fail = func(_ int, key entity.ItemKey, start time.Time) error {
		return &snapshot.CascadeError{
			Key: key, Start: start, ResumeFrom: start,
			Err: apperror.NewTransientStore("upsert snapshot", errStoreDown),
		}
	}
	backlog := memory.NewBacklogStore(time.Minute)
	d := snapshot.NewDispatcher(c, backlog, snapshot.DispatcherConfig{
		Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond,
	})
	startDispatcher(t, d)

	d.Trigger(testKey, day(3))
	drain(t, d)

	assert.Len(t, c.snapshotCalls(), 3, "first run plus two retries")
	require.Equal(t, 1, backlog.Len())

	resume, found, err := backlog.Take(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, day(3), resume)
}

func TestDispatcher_NonTransientSkipsRetry(t *testing.T) {
	c := newFakeCascader()
	c.fail = func(int, entity.ItemKey, time.Time) error {
		return errors.New("boom")
	}
	backlog := memory.NewBacklogStore(time.Minute)
	d := snapshot.NewDispatcher(c, backlog, snapshot.DispatcherConfig{
		Workers: 1, MaxRetries: 5, RetryBackoff: time.Millisecond,
	})
	startDispatcher(t, d)

	d.Trigger(testKey, day(3))
	drain(t, d)

	assert.Len(t, c.snapshotCalls(), 1)
	assert.Equal(t, 1, backlog.Len())
}

func TestDispatcher_MergesBacklogOnNextTrigger(t *testing.T) {
	c := newFakeCascader()
	backlog := memory.NewBacklogStore(time.Minute)
	require.NoError(t, backlog.Record(context.Background(), testKey, day(2), errStoreDown))

	d := snapshot.NewDispatcher(c, backlog, snapshot.DispatcherConfig{Workers: 1})
	startDispatcher(t, d)

	d.Trigger(testKey, day(10))
	drain(t, d)

	calls := c.snapshotCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, day(2), calls[0].start)
	assert.Equal(t, 0, backlog.Len())
}

func TestDispatcher_EndToEndKeepsChain(t *testing.T) {
	f := newFixture(t)
	seedFlat(t, f)
	d := snapshot.NewDispatcher(f.recalc, nil, snapshot.DispatcherConfig{Workers: 3})
	startDispatcher(t, d)

	f.post(t, day(2), entity.SourceIncoming, "5")
	d.Trigger(testKey, day(2))
	f.post(t, day(4), entity.SourceOutgoing, "1")
	d.Trigger(testKey, day(4))
	drain(t, d)

	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "14.0000", "14.0000"}, f.closings())
	requireChain(t, f.snapshots.All(testKey))
}
