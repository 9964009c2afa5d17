package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/lock"
	"bondstock/internal/infrastructure/storage/memory"
)

var (
	testKey  = entity.NewItemKey("C1", "RM-01")
	testItem = entity.Item{ItemKey: testKey, ItemType: "RAW", ItemName: "Cotton yarn", UOM: "KG"}
)

func day(n int) time.Time {
	return time.Date(2024, time.March, n, 0, 0, 0, 0, time.UTC)
}

func qty(s string) types.Quantity {
	return types.MustQuantity(s)
}

type fixture struct {
	snapshots *memory.SnapshotStore
	ledger    *memory.LedgerStore
	items     *memory.ItemStore
	repo      snapshot.Repository
	upserter  *snapshot.Upserter
	recalc    *snapshot.Recalculator
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		snapshots: memory.NewSnapshotStore(),
		ledger:    memory.NewLedgerStore(),
		items:     memory.NewItemStore(testItem),
	}
	f.repo = f.snapshots
	for _, opt := range opts {
		opt(f)
	}
	f.upserter = snapshot.NewUpserter(f.repo, f.ledger, f.items)
	f.recalc = snapshot.NewRecalculator(f.upserter, f.repo, f.ledger, lock.NewKeyedMutex(), nil, snapshot.CascadeConfig{})
	return f
}

func (f *fixture) post(t *testing.T, date time.Time, source entity.Source, q string) {
	t.Helper()
	e := entity.NewLedgerEntry(testKey, date, source, qty(q))
	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, f.ledger.Create(context.Background(), e))
}

func (f *fixture) closings() []string {
	var out []string
	for _, s := range f.snapshots.All(testKey) {
		out = append(out, s.ClosingBalance.String())
	}
	return out
}

func requireChain(t *testing.T, rows []entity.Snapshot) {
	t.Helper()
	for i := 1; i < len(rows); i++ {
		require.Equal(t, rows[i-1].ClosingBalance, rows[i].OpeningBalance,
			"opening of %s must equal closing of %s", rows[i].SnapshotDate, rows[i-1].SnapshotDate)
	}
	for _, r := range rows {
		require.Equal(t, r.OpeningBalance+r.IncomingQty-r.OutgoingQty+r.AdjustmentQty, r.ClosingBalance)
	}
}

var errStoreDown = errors.New("connection refused")

// flakyRepo fails Upsert for the configured dates until healed.
type flakyRepo struct {
	snapshot.Repository

	mu        sync.Mutex
	failOn    map[time.Time]bool
	failReads bool
}

func (r *flakyRepo) Upsert(ctx context.Context, s entity.Snapshot) error {
	r.mu.Lock()
	fail := r.failOn[s.SnapshotDate]
	r.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return r.Repository.Upsert(ctx, s)
}

func (r *flakyRepo) GetLatestAtOrBefore(ctx context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error) {
	r.mu.Lock()
	fail := r.failReads
	r.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return r.Repository.GetLatestAtOrBefore(ctx, key, date)
}

func (r *flakyRepo) failUpsertOn(dates ...time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn = make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		r.failOn[d] = true
	}
}

func (r *flakyRepo) failAllReads() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failReads = true
}

func (r *flakyRepo) heal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn = nil
	r.failReads = false
}
