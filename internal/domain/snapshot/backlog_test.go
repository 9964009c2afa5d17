package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/storage/memory"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, snapshot.RetryDelay(time.Minute, 1))
	assert.Equal(t, 4*time.Minute, snapshot.RetryDelay(time.Minute, 3))
	assert.Equal(t, time.Hour, snapshot.RetryDelay(time.Minute, 20))
	assert.Equal(t, 200*time.Millisecond, snapshot.RetryDelay(100*time.Millisecond, 2))
	assert.Equal(t, time.Minute, snapshot.RetryDelay(0, 1))
}

func TestReplayer_CompletesDueEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedFlat(t, f)
	f.post(t, day(2), entity.SourceIncoming, "5")

	backlog := memory.NewBacklogStore(time.Millisecond)
	require.NoError(t, backlog.Record(ctx, testKey, day(2), errStoreDown))

	n, err := snapshot.NewReplayer(backlog, f.recalc, 10).ReplayDue(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, backlog.Len())
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "15.0000", "15.0000"}, f.closings())
}

func TestReplayer_ReschedulesFailures(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyRepo
	f := newFixture(t, func(f *fixture) {
		flaky = &flakyRepo{Repository: f.snapshots}
		f.repo = flaky
	})
	seedFlat(t, f)
	f.post(t, day(2), entity.SourceIncoming, "5")
	flaky.failUpsertOn(day(4))

	backlog := memory.NewBacklogStore(time.Hour)
	require.NoError(t, backlog.Record(ctx, testKey, day(2), errStoreDown))
	replayer := snapshot.NewReplayer(backlog, f.recalc, 10)

	n, err := replayer.ReplayDue(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// progress is kept: the entry now resumes from the failed date
	resume, found, err := backlog.Take(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, day(4), resume)
}

func TestReplayer_SkipsEntriesNotDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	backlog := memory.NewBacklogStore(time.Hour)
	require.NoError(t, backlog.Record(ctx, testKey, day(2), errStoreDown))

	n, err := snapshot.NewReplayer(backlog, f.recalc, 10).ReplayDue(ctx, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, n)
	assert.Equal(t, 1, backlog.Len())
}
