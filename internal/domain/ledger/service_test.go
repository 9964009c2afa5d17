package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	corenumerator "bondstock/internal/core/numerator"
	"bondstock/internal/core/tx"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/numerator"
	"bondstock/internal/infrastructure/storage/memory"
)

var key = entity.NewItemKey("C1", "FG-01")

func day(n int) time.Time {
	return time.Date(2024, time.May, n, 0, 0, 0, 0, time.UTC)
}

type triggered struct {
	key  entity.ItemKey
	date time.Time
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggered
}

func (r *recordingTrigger) Trigger(key entity.ItemKey, date time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, triggered{key, date})
}

type env struct {
	svc       *ledger.Service
	store     *memory.LedgerStore
	snapshots *memory.SnapshotStore
	upserter  *snapshot.Upserter
	trigger   *recordingTrigger
}

func newEnv(t *testing.T, cfg ledger.Config) *env {
	t.Helper()
	items := memory.NewItemStore(
		entity.Item{ItemKey: key, ItemType: "FG", ItemName: "Shirt", UOM: "PCS"},
		entity.Item{ItemKey: entity.NewItemKey("C1", "FG-02"), ItemType: "FG", ItemName: "Jacket", UOM: "PCS"},
	)
	e := &env{
		store:     memory.NewLedgerStore(),
		snapshots: memory.NewSnapshotStore(),
		trigger:   &recordingTrigger{},
	}
	e.upserter = snapshot.NewUpserter(e.snapshots, e.store, items)
	checker := snapshot.NewAvailabilityChecker(e.snapshots)
	e.svc = ledger.NewService(e.store, items, checker, e.trigger, tx.Passthrough{}, cfg)
	return e
}

func (e *env) stock(t *testing.T, d int, q string) {
	t.Helper()
	require.NoError(t, e.svc.Post(context.Background(),
		entity.NewLedgerEntry(key, day(d), entity.SourceIncoming, types.MustQuantity(q))))
	_, err := e.upserter.Upsert(context.Background(), key, day(d))
	require.NoError(t, err)
}

func TestPost_TriggersRecalculation(t *testing.T) {
	e := newEnv(t, ledger.Config{})

	entry := entity.NewLedgerEntry(key, day(3).Add(15*time.Hour), entity.SourceIncoming, types.MustQuantity("10"))
	require.NoError(t, e.svc.Post(context.Background(), entry))

	require.Len(t, e.trigger.calls, 1)
	assert.Equal(t, key, e.trigger.calls[0].key)
	assert.Equal(t, day(3), e.trigger.calls[0].date, "date is normalized to the day")

	stored, err := e.svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DirectionIn, stored.Direction)
}

func TestPost_Validation(t *testing.T) {
	e := newEnv(t, ledger.Config{})

	tests := []struct {
		name  string
		entry *entity.LedgerEntry
	}{
		{"zero incoming", entity.NewLedgerEntry(key, day(1), entity.SourceIncoming, 0)},
		{"negative outgoing", entity.NewLedgerEntry(key, day(1), entity.SourceOutgoing, types.MustQuantity("-1"))},
		{"unknown source", entity.NewLedgerEntry(key, day(1), entity.Source("gift"), types.MustQuantity("1"))},
		{"missing date", entity.NewLedgerEntry(key, time.Time{}, entity.SourceIncoming, types.MustQuantity("1"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.svc.Post(context.Background(), tt.entry)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
		})
	}
	assert.Empty(t, e.trigger.calls)
}

func TestPost_UnknownItem(t *testing.T) {
	e := newEnv(t, ledger.Config{})

	err := e.svc.Post(context.Background(),
		entity.NewLedgerEntry(entity.NewItemKey("C1", "NOPE"), day(1), entity.SourceIncoming, types.MustQuantity("1")))

	assert.True(t, apperror.IsItemNotFound(err))
}

func TestPost_OutgoingChecksAvailability(t *testing.T) {
	e := newEnv(t, ledger.Config{})
	e.stock(t, 1, "5")

	err := e.svc.Post(context.Background(),
		entity.NewLedgerEntry(key, day(2), entity.SourceOutgoing, types.MustQuantity("5.5")))

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	assert.Equal(t, "0.5000", appErr.Details["shortfall"])

	require.NoError(t, e.svc.Post(context.Background(),
		entity.NewLedgerEntry(key, day(2), entity.SourceOutgoing, types.MustQuantity("5"))))
}

func TestPost_AllowNegativeStock(t *testing.T) {
	e := newEnv(t, ledger.Config{AllowNegativeStock: true})

	err := e.svc.Post(context.Background(),
		entity.NewLedgerEntry(key, day(2), entity.SourceScrap, types.MustQuantity("3")))

	assert.NoError(t, err)
}

func TestVoid(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{})
	entry := entity.NewLedgerEntry(key, day(4), entity.SourceIncoming, types.MustQuantity("2"))
	require.NoError(t, e.svc.Post(ctx, entry))

	require.NoError(t, e.svc.Void(ctx, entry.ID))

	stored, err := e.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted())
	assert.Len(t, e.trigger.calls, 2)

	err = e.svc.Void(ctx, entry.ID)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeEntryVoided, appErr.Code)

	assert.True(t, apperror.IsNotFound(e.svc.Void(ctx, id.New())))
}

func TestReplace_TriggersFromEarlierDate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{})
	prev := entity.NewLedgerEntry(key, day(10), entity.SourceIncoming, types.MustQuantity("2"))
	require.NoError(t, e.svc.Post(ctx, prev))

	next := entity.NewLedgerEntry(key, day(6), entity.SourceIncoming, types.MustQuantity("3"))
	require.NoError(t, e.svc.Replace(ctx, prev.ID, next))

	last := e.trigger.calls[len(e.trigger.calls)-1]
	assert.Equal(t, day(6), last.date)

	old, err := e.svc.Get(ctx, prev.ID)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted())

	live, err := e.svc.List(ctx, ledger.ListFilter{CompanyCode: "C1", ItemCode: key.ItemCode})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, next.ID, live[0].ID)
}

func TestReplace_ChangedItemTriggersBothKeys(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{})
	prev := entity.NewLedgerEntry(key, day(3), entity.SourceIncoming, types.MustQuantity("2"))
	require.NoError(t, e.svc.Post(ctx, prev))

	other := entity.NewItemKey("C1", "FG-02")
	require.NoError(t, e.svc.Replace(ctx, prev.ID,
		entity.NewLedgerEntry(other, day(5), entity.SourceIncoming, types.MustQuantity("2"))))

	calls := e.trigger.calls[1:]
	require.Len(t, calls, 2)
	assert.Equal(t, triggered{key, day(3)}, calls[0])
	assert.Equal(t, triggered{other, day(5)}, calls[1])
}

func TestReplace_OutgoingReleasesReplacedQuantity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{})
	e.stock(t, 1, "5")

	out := entity.NewLedgerEntry(key, day(2), entity.SourceOutgoing, types.MustQuantity("4"))
	require.NoError(t, e.svc.Post(ctx, out))
	_, err := e.upserter.Upsert(ctx, key, day(2))
	require.NoError(t, err)

	// 1 left on hand, but replacing 4 with 5 only needs one more
	require.NoError(t, e.svc.Replace(ctx, out.ID,
		entity.NewLedgerEntry(key, day(2), entity.SourceOutgoing, types.MustQuantity("5"))))
}

func TestRecordStockCount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{AllowNegativeStock: true})
	require.NoError(t, e.svc.Post(ctx, entity.NewLedgerEntry(key, day(1), entity.SourceIncoming, types.MustQuantity("20"))))
	require.NoError(t, e.svc.Post(ctx, entity.NewLedgerEntry(key, day(2), entity.SourceProductionConsumption, types.MustQuantity("3"))))
	require.NoError(t, e.svc.Post(ctx, entity.NewLedgerEntry(key, day(9), entity.SourceIncoming, types.MustQuantity("100"))))

	res, err := e.svc.RecordStockCount(ctx, &ledger.StockCount{
		ItemKey:    key,
		CountDate:  day(5),
		CountedQty: types.MustQuantity("15.5"),
		DocumentNo: "SO-2024-05",
	})
	require.NoError(t, err)

	assert.Equal(t, "17.0000", res.BookQty.String(), "entries after the count date are ignored")
	assert.Equal(t, "-1.5000", res.Variance.String())
	require.NotNil(t, res.Entry)
	assert.Equal(t, entity.SourceStockOpname, res.Entry.Source)
	assert.Equal(t, entity.DirectionAdjustment, res.Entry.Direction)

	balance, err := e.store.SumThrough(ctx, key, day(5))
	require.NoError(t, err)
	assert.Equal(t, "15.5000", balance.String())
}

func TestRecordStockCount_NumbersMissingDocumentNo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{
		AllowNegativeStock: true,
		Numerator:          numerator.NewMemory(),
		CountNumbering:     corenumerator.DefaultConfig("SO"),
	})
	require.NoError(t, e.svc.Post(ctx, entity.NewLedgerEntry(key, day(1), entity.SourceIncoming, types.MustQuantity("10"))))

	first, err := e.svc.RecordStockCount(ctx, &ledger.StockCount{ItemKey: key, CountDate: day(3), CountedQty: types.MustQuantity("9")})
	require.NoError(t, err)
	require.NotNil(t, first.Entry)
	assert.Equal(t, "SO-2024-00001", first.Entry.DocumentNo)

	second, err := e.svc.RecordStockCount(ctx, &ledger.StockCount{ItemKey: key, CountDate: day(4), CountedQty: types.MustQuantity("7")})
	require.NoError(t, err)
	assert.Equal(t, "SO-2024-00002", second.Entry.DocumentNo)

	manual, err := e.svc.RecordStockCount(ctx, &ledger.StockCount{ItemKey: key, CountDate: day(5), CountedQty: types.MustQuantity("6"), DocumentNo: "BA-77"})
	require.NoError(t, err)
	assert.Equal(t, "BA-77", manual.Entry.DocumentNo)
}

func TestRecordStockCount_NoVariance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, ledger.Config{AllowNegativeStock: true})
	require.NoError(t, e.svc.Post(ctx, entity.NewLedgerEntry(key, day(1), entity.SourceIncoming, types.MustQuantity("8"))))
	before := len(e.trigger.calls)

	res, err := e.svc.RecordStockCount(ctx, &ledger.StockCount{ItemKey: key, CountDate: day(3), CountedQty: types.MustQuantity("8")})
	require.NoError(t, err)

	assert.Nil(t, res.Entry)
	assert.True(t, res.Variance.IsZero())
	assert.Len(t, e.trigger.calls, before)
}
