package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/reports"
	"bondstock/internal/infrastructure/storage/memory"
)

func day(n int) time.Time {
	return time.Date(2024, time.April, n, 0, 0, 0, 0, time.UTC)
}

func snap(item, itemType string, d int, opening, in, out, adj string) entity.Snapshot {
	item0 := entity.Item{ItemKey: entity.NewItemKey("C1", item), ItemType: itemType, ItemName: item + " name", UOM: "PCS"}
	return entity.NewSnapshot(item0, day(d), types.MustQuantity(opening), entity.DayAggregate{
		Incoming:   types.MustQuantity(in),
		Outgoing:   types.MustQuantity(out),
		Adjustment: types.MustQuantity(adj),
	})
}

func seed(t *testing.T) *memory.SnapshotStore {
	t.Helper()
	store := memory.NewSnapshotStore()
	rows := []entity.Snapshot{
		snap("A", "RAW", 1, "0", "100", "0", "0"),   // 100
		snap("A", "RAW", 5, "100", "20", "30", "0"), // 90
		snap("A", "RAW", 9, "90", "0", "10", "-1"),  // 79
		snap("B", "FG", 2, "0", "50", "0", "0"),     // 50
		snap("C", "RAW", 6, "0", "5", "0", "0"),     // 5
	}
	for _, r := range rows {
		require.NoError(t, store.Upsert(context.Background(), r))
	}
	return store
}

func TestGetMutation(t *testing.T) {
	svc := reports.NewService(seed(t), nil)

	report, err := svc.GetMutation(context.Background(), reports.MutationFilter{
		CompanyCode: "C1",
		FromDate:    day(3),
		ToDate:      day(8),
	})
	require.NoError(t, err)

	require.Len(t, report.Items, 3)

	a := report.Items[0]
	assert.Equal(t, "A", a.ItemCode)
	assert.Equal(t, "100.0000", a.OpeningBalance.String())
	assert.Equal(t, "20.0000", a.Incoming.String())
	assert.Equal(t, "30.0000", a.Outgoing.String())
	assert.Equal(t, "90.0000", a.ClosingBalance.String(), "day 9 is outside the period")

	b := report.Items[1]
	assert.Equal(t, "50.0000", b.OpeningBalance.String())
	assert.Equal(t, "50.0000", b.ClosingBalance.String(), "no snapshot in range keeps the opening")

	c := report.Items[2]
	assert.True(t, c.OpeningBalance.IsZero())
	assert.Equal(t, "5.0000", c.ClosingBalance.String())

	assert.Equal(t, "150.0000", report.TotalOpening.String())
	assert.Equal(t, "145.0000", report.TotalClosing.String())
	for _, it := range report.Items {
		assert.Equal(t, it.OpeningBalance+it.Incoming-it.Outgoing+it.Adjustment, it.ClosingBalance)
	}
}

func TestGetMutation_FiltersAndPaging(t *testing.T) {
	svc := reports.NewService(seed(t), nil)

	report, err := svc.GetMutation(context.Background(), reports.MutationFilter{
		CompanyCode: "C1",
		FromDate:    day(1),
		ToDate:      day(30),
		ItemType:    "RAW",
		Limit:       1,
		Offset:      1,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalItems)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "C", report.Items[0].ItemCode)
}

func TestGetMutation_Validation(t *testing.T) {
	svc := reports.NewService(memory.NewSnapshotStore(), nil)

	_, err := svc.GetMutation(context.Background(), reports.MutationFilter{CompanyCode: "C1", FromDate: day(5), ToDate: day(1)})
	assert.True(t, apperror.IsAppError(err))

	_, err = svc.GetMutation(context.Background(), reports.MutationFilter{FromDate: day(1), ToDate: day(5)})
	assert.True(t, apperror.IsAppError(err))
}

func TestGetStockPosition(t *testing.T) {
	svc := reports.NewService(seed(t), nil)
	asOf := day(5)

	report, err := svc.GetStockPosition(context.Background(), reports.StockPositionFilter{
		CompanyCode: "C1",
		AsOfDate:    &asOf,
	})
	require.NoError(t, err)

	require.Len(t, report.Items, 2, "C has no snapshot yet")
	assert.Equal(t, "90.0000", report.Items[0].Balance.String(), "snapshot on the report date counts")
	assert.Equal(t, day(5), report.Items[0].SnapshotDate)
	assert.Equal(t, "50.0000", report.Items[1].Balance.String())
}

type recordingTx struct {
	readOnly int
}

func (r *recordingTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *recordingTx) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	r.readOnly++
	return fn(ctx)
}

func TestGetMutation_ReadsInOneReadOnlyTransaction(t *testing.T) {
	txm := &recordingTx{}
	svc := reports.NewService(seed(t), txm)

	_, err := svc.GetMutation(context.Background(), reports.MutationFilter{
		CompanyCode: "C1",
		FromDate:    day(1),
		ToDate:      day(30),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, txm.readOnly)
}
