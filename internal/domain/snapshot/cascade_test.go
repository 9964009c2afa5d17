package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/lock"
)

func TestUpserter_ComputesFromPreviousClosing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, day(1), entity.SourceIncoming, "10")
	f.post(t, day(2), entity.SourceIncoming, "4")
	f.post(t, day(2), entity.SourceOutgoing, "3")
	f.post(t, day(2), entity.SourceStockOpname, "-0.5")

	_, err := f.upserter.Upsert(ctx, testKey, day(1))
	require.NoError(t, err)
	snap, err := f.upserter.Upsert(ctx, testKey, day(2))
	require.NoError(t, err)

	assert.Equal(t, "10.0000", snap.OpeningBalance.String())
	assert.Equal(t, "4.0000", snap.IncomingQty.String())
	assert.Equal(t, "3.0000", snap.OutgoingQty.String())
	assert.Equal(t, "-0.5000", snap.AdjustmentQty.String())
	assert.Equal(t, "10.5000", snap.ClosingBalance.String())
	assert.Equal(t, "RAW", snap.ItemType)
	assert.Equal(t, "KG", snap.UOM)
}

func TestUpserter_ZeroActivityDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, day(1), entity.SourceIncoming, "7")

	_, err := f.upserter.Upsert(ctx, testKey, day(1))
	require.NoError(t, err)
	snap, err := f.upserter.Upsert(ctx, testKey, day(9))
	require.NoError(t, err)

	assert.Equal(t, snap.OpeningBalance, snap.ClosingBalance)
	assert.Equal(t, "7.0000", snap.ClosingBalance.String())
	assert.True(t, snap.IncomingQty.IsZero())
	assert.True(t, snap.OutgoingQty.IsZero())
	assert.True(t, snap.AdjustmentQty.IsZero())
}

func TestUpserter_UnknownItem(t *testing.T) {
	f := newFixture(t)
	unknown := entity.NewItemKey("C1", "NOPE")

	_, err := f.upserter.Upsert(context.Background(), unknown, day(1))

	assert.True(t, apperror.IsItemNotFound(err))
	dates, _ := f.snapshots.ListDatesFrom(context.Background(), unknown, day(1))
	assert.Empty(t, dates)
}

func TestUpserter_StoreFailureIsTransient(t *testing.T) {
	var flaky *flakyRepo
	f := newFixture(t, func(f *fixture) {
		flaky = &flakyRepo{Repository: f.snapshots, failOn: map[time.Time]bool{day(1): true}}
		f.repo = flaky
	})

	_, err := f.upserter.Upsert(context.Background(), testKey, day(1))

	assert.True(t, apperror.IsTransient(err))
	assert.ErrorIs(t, err, errStoreDown)
}

// seedFlat builds five daily snapshots closing at 10.
func seedFlat(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	f.post(t, day(1), entity.SourceIncoming, "10")
	for d := 1; d <= 5; d++ {
		_, err := f.upserter.Upsert(ctx, testKey, day(d))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"10.0000", "10.0000", "10.0000", "10.0000", "10.0000"}, f.closings())
}

func TestRecalculateFrom_BackDatedCorrection(t *testing.T) {
	f := newFixture(t)
	seedFlat(t, f)

	f.post(t, day(2), entity.SourceIncoming, "5")
	res, err := f.recalc.RecalculateFrom(context.Background(), testKey, day(2))
	require.NoError(t, err)

	assert.Equal(t, []time.Time{day(2), day(3), day(4), day(5)}, res.Affected)
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "15.0000", "15.0000"}, f.closings())
	requireChain(t, f.snapshots.All(testKey))
}

func TestRecalculateFrom_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedFlat(t, f)
	f.post(t, day(3), entity.SourceScrap, "2")

	_, err := f.recalc.RecalculateFrom(ctx, testKey, day(3))
	require.NoError(t, err)
	first := f.snapshots.All(testKey)

	_, err = f.recalc.RecalculateFrom(ctx, testKey, day(3))
	require.NoError(t, err)
	second := f.snapshots.All(testKey)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].SameBalances(second[i]), "row %d changed", i)
	}
}

func TestRecalculateFrom_ReachesActivityBeyondLastSnapshot(t *testing.T) {
	f := newFixture(t)
	seedFlat(t, f)
	f.post(t, day(8), entity.SourceOutgoing, "4")

	res, err := f.recalc.RecalculateFrom(context.Background(), testKey, day(4))
	require.NoError(t, err)

	assert.Equal(t, []time.Time{day(4), day(5), day(8)}, res.Affected)
	rows := f.snapshots.All(testKey)
	require.Len(t, rows, 6, "days without snapshot or activity are not created")
	assert.Equal(t, "6.0000", rows[5].ClosingBalance.String())
	requireChain(t, rows)
}

func TestRecalculateFrom_VoidedEntriesExcluded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedFlat(t, f)

	e := entity.NewLedgerEntry(testKey, day(2), entity.SourceIncoming, qty("5"))
	require.NoError(t, f.ledger.Create(ctx, e))
	_, err := f.recalc.RecalculateFrom(ctx, testKey, day(2))
	require.NoError(t, err)

	require.NoError(t, f.ledger.SoftDelete(ctx, e.ID, time.Now()))
	_, err = f.recalc.RecalculateFrom(ctx, testKey, day(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0000", "10.0000", "10.0000", "10.0000", "10.0000"}, f.closings())
}

func TestRecalculateFrom_ResumableAfterFailure(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyRepo
	f := newFixture(t, func(f *fixture) {
		flaky = &flakyRepo{Repository: f.snapshots}
		f.repo = flaky
	})
	seedFlat(t, f)

	f.post(t, day(2), entity.SourceIncoming, "5")
	flaky.failUpsertOn(day(4))

	res, err := f.recalc.RecalculateFrom(ctx, testKey, day(2))
	require.Error(t, err)

	ce, ok := snapshot.AsCascadeError(err)
	require.True(t, ok)
	assert.Equal(t, day(4), ce.ResumeFrom)
	assert.Equal(t, []time.Time{day(2), day(3)}, ce.Affected)
	assert.Equal(t, ce.Affected, res.Affected)
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "10.0000", "10.0000"}, f.closings(),
		"dates before the failure stay updated")

	flaky.heal()
	_, err = f.recalc.RecalculateFrom(ctx, testKey, ce.ResumeFrom)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "15.0000", "15.0000"}, f.closings())
	requireChain(t, f.snapshots.All(testKey))
}

func TestRecalculateFrom_RerunFromOriginalStart(t *testing.T) {
	ctx := context.Background()

	clean := newFixture(t)
	seedFlat(t, clean)
	clean.post(t, day(2), entity.SourceIncoming, "5")
	clean.post(t, day(4), entity.SourceOutgoing, "3")
	_, err := clean.recalc.RecalculateFrom(ctx, testKey, day(2))
	require.NoError(t, err)
	want := clean.snapshots.All(testKey)

	var flaky *flakyRepo
	f := newFixture(t, func(f *fixture) {
		flaky = &flakyRepo{Repository: f.snapshots}
		f.repo = flaky
	})
	seedFlat(t, f)
	f.post(t, day(2), entity.SourceIncoming, "5")
	f.post(t, day(4), entity.SourceOutgoing, "3")

	flaky.failUpsertOn(day(4))
	_, err = f.recalc.RecalculateFrom(ctx, testKey, day(2))
	_, ok := snapshot.AsCascadeError(err)
	require.True(t, ok)

	flaky.heal()
	_, err = f.recalc.RecalculateFrom(ctx, testKey, day(2))
	require.NoError(t, err)

	got := f.snapshots.All(testKey)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].SnapshotDate.Equal(got[i].SnapshotDate))
		assert.True(t, want[i].SameBalances(got[i]), "row %s differs", want[i].SnapshotDate)
	}
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "12.0000", "12.0000"}, f.closings())
	requireChain(t, got)
}

func TestRecalculateFrom_ChainLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedFlat(t, f)
	f.post(t, day(2), entity.SourceIncoming, "5")

	recalc := snapshot.NewRecalculator(f.upserter, f.snapshots, f.ledger, lock.NewKeyedMutex(), nil,
		snapshot.CascadeConfig{MaxChainDays: 2})

	_, err := recalc.RecalculateFrom(ctx, testKey, day(2))
	require.ErrorIs(t, err, snapshot.ErrChainLimit)
	ce, ok := snapshot.AsCascadeError(err)
	require.True(t, ok)
	assert.Equal(t, day(4), ce.ResumeFrom)

	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "10.0000", "10.0000"}, f.closings())

	_, err = recalc.RecalculateFrom(ctx, testKey, ce.ResumeFrom)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "15.0000", "15.0000"}, f.closings())
	requireChain(t, f.snapshots.All(testKey))

	// a capped rerun from the original start changes nothing further
	_, err = recalc.RecalculateFrom(ctx, testKey, day(2))
	require.ErrorIs(t, err, snapshot.ErrChainLimit)
	assert.Equal(t, []string{"10.0000", "15.0000", "15.0000", "15.0000", "15.0000"}, f.closings())
}

func TestRecalculateFrom_TimeoutWhileLocked(t *testing.T) {
	f := newFixture(t)
	locker := lock.NewKeyedMutex()
	unlock, err := locker.Lock(context.Background(), testKey)
	require.NoError(t, err)
	defer unlock()

	recalc := snapshot.NewRecalculator(f.upserter, f.snapshots, f.ledger, locker, nil,
		snapshot.CascadeConfig{Timeout: 20 * time.Millisecond})

	_, err = recalc.RecalculateFrom(context.Background(), testKey, day(3))

	ce, ok := snapshot.AsCascadeError(err)
	require.True(t, ok)
	assert.Equal(t, day(3), ce.ResumeFrom)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, apperror.IsTransient(err))
}

type recordingJournal struct {
	runs []snapshot.Run
}

func (j *recordingJournal) Record(_ context.Context, run snapshot.Run) error {
	j.runs = append(j.runs, run)
	return nil
}

func TestRecalculateFrom_RecordsJournal(t *testing.T) {
	f := newFixture(t)
	seedFlat(t, f)
	journal := &recordingJournal{}
	recalc := snapshot.NewRecalculator(f.upserter, f.snapshots, f.ledger, lock.NewKeyedMutex(), journal,
		snapshot.CascadeConfig{})

	_, err := recalc.RecalculateFrom(context.Background(), testKey, day(4))
	require.NoError(t, err)

	require.Len(t, journal.runs, 1)
	run := journal.runs[0]
	assert.Equal(t, snapshot.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Affected)
	assert.Nil(t, run.ResumeFrom)
	assert.Len(t, run.Snapshots, 2)
}
