package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/domain/snapshot"
)

func TestAvailability_Boundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, day(1), entity.SourceIncoming, "12.5")
	_, err := f.upserter.Upsert(ctx, testKey, day(1))
	require.NoError(t, err)

	checker := snapshot.NewAvailabilityChecker(f.snapshots)

	tests := []struct {
		name      string
		requested string
		available bool
		shortfall string
	}{
		{"below", "12", true, "0.0000"},
		{"equal", "12.5", true, "0.0000"},
		{"just above", "12.501", false, "0.0010"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := checker.Check(ctx, testKey, "RAW", qty(tt.requested), day(3))
			require.NoError(t, err)

			assert.Equal(t, tt.available, res.Available)
			assert.Equal(t, "12.5000", res.CurrentStock.String())
			assert.Equal(t, tt.shortfall, res.Shortfall.String())
			if !tt.available {
				assert.Equal(t, snapshot.ReasonInsufficient, res.Reason)
			}
		})
	}
}

func TestAvailability_NoSnapshot(t *testing.T) {
	f := newFixture(t)
	checker := snapshot.NewAvailabilityChecker(f.snapshots)

	res, err := checker.Check(context.Background(), testKey, "", qty("1"), day(1))
	require.NoError(t, err)

	assert.False(t, res.Available)
	assert.True(t, res.CurrentStock.IsZero())
	assert.Equal(t, "1.0000", res.Shortfall.String())
	assert.Nil(t, res.SnapshotDate)

	res, err = checker.Check(context.Background(), testKey, "", qty("0"), day(1))
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestAvailability_UsesSnapshotAtOrBeforeDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, day(1), entity.SourceIncoming, "10")
	f.post(t, day(5), entity.SourceOutgoing, "8")
	for _, d := range []int{1, 5} {
		_, err := f.upserter.Upsert(ctx, testKey, day(d))
		require.NoError(t, err)
	}
	checker := snapshot.NewAvailabilityChecker(f.snapshots)

	before, err := checker.Check(ctx, testKey, "", qty("5"), day(4))
	require.NoError(t, err)
	assert.True(t, before.Available)
	assert.Equal(t, day(1), *before.SnapshotDate)

	after, err := checker.Check(ctx, testKey, "", qty("5"), day(5))
	require.NoError(t, err)
	assert.False(t, after.Available)
	assert.Equal(t, "3.0000", after.Shortfall.String())
}

func TestAvailability_FailsClosed(t *testing.T) {
	var flaky *flakyRepo
	f := newFixture(t, func(f *fixture) {
		flaky = &flakyRepo{Repository: f.snapshots}
		f.repo = flaky
	})
	flaky.failAllReads()
	checker := snapshot.NewAvailabilityChecker(f.repo)

	res, err := checker.Check(context.Background(), testKey, "", qty("1"), day(1))

	require.Error(t, err)
	assert.True(t, apperror.IsTransient(err))
	assert.False(t, res.Available)
	assert.Equal(t, snapshot.ReasonStoreUnavailable, res.Reason)
}

func TestAvailability_ItemTypeMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, day(1), entity.SourceIncoming, "10")
	_, err := f.upserter.Upsert(ctx, testKey, day(1))
	require.NoError(t, err)

	res, err := snapshot.NewAvailabilityChecker(f.snapshots).Check(ctx, testKey, "FINISHED", qty("1"), day(1))
	require.NoError(t, err)

	assert.False(t, res.Available)
	assert.Equal(t, snapshot.ReasonItemTypeMismatch, res.Reason)
}

func TestAvailability_NegativeRequest(t *testing.T) {
	f := newFixture(t)

	res, err := snapshot.NewAvailabilityChecker(f.snapshots).Check(context.Background(), testKey, "", qty("-1"), day(1))

	require.Error(t, err)
	assert.False(t, res.Available)
}
