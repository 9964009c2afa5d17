package stock_repo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
)

var key = entity.NewItemKey("C1", "RM-01")

func march(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestSnapshotRepo_LatestQuery(t *testing.T) {
	repo := NewSnapshotRepo(nil)

	tests := []struct {
		name      string
		inclusive bool
		wantBound string
	}{
		{name: "strictly before", inclusive: false, wantBound: "snapshot_date < $3"},
		{name: "at or before", inclusive: true, wantBound: "snapshot_date <= $3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := repo.latestQuery(key, march(5).Add(13*time.Hour), tt.inclusive).ToSql()
			require.NoError(t, err)

			assert.Contains(t, sql, "FROM inv_stock_snapshots WHERE company_code = $1 AND item_code = $2 AND "+tt.wantBound)
			assert.Contains(t, sql, "ORDER BY snapshot_date DESC LIMIT 1")
			assert.Equal(t, []any{"C1", "RM-01", march(5)}, args, "date is truncated to the day")
		})
	}
}

func TestSnapshotRepo_UpsertQuery(t *testing.T) {
	repo := NewSnapshotRepo(nil)
	s := entity.Snapshot{
		ItemKey:        key,
		ItemType:       "RAW",
		SnapshotDate:   march(2),
		OpeningBalance: types.MustQuantity("10"),
		IncomingQty:    types.MustQuantity("5"),
		ClosingBalance: types.MustQuantity("15"),
	}

	sql, args, err := repo.upsertQuery(s).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "INSERT INTO inv_stock_snapshots (company_code,item_code,item_type,item_name,uom,snapshot_date,")
	assert.Contains(t, sql, "ON CONFLICT (company_code, item_code, snapshot_date) DO UPDATE SET")
	assert.Contains(t, sql, "closing_balance = EXCLUDED.closing_balance")
	require.Len(t, args, len(snapshotColumns))
	closing, ok := args[10].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("15").Equal(closing))
}

func TestSnapshotRepo_RangeQueries(t *testing.T) {
	repo := NewSnapshotRepo(nil)
	f := snapshot.RangeFilter{
		CompanyCode: "C1",
		ItemCodes:   []string{"RM-01", "RM-02"},
		ItemType:    "RAW",
		From:        march(1),
		To:          march(31),
	}

	sql, args, err := repo.rangeQuery(f).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "item_code IN ($2,$3)")
	assert.Contains(t, sql, "snapshot_date >= $5 AND snapshot_date <= $6")
	assert.Contains(t, sql, "ORDER BY item_code, snapshot_date")
	assert.Equal(t, []any{"C1", "RM-01", "RM-02", "RAW", march(1), march(31)}, args)

	sql, args, err = repo.latestBeforeQuery(f).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT DISTINCT ON (item_code) company_code")
	assert.Contains(t, sql, "snapshot_date < $5")
	assert.Contains(t, sql, "ORDER BY item_code, snapshot_date DESC")
	assert.Len(t, args, 5)
}

func TestLedgerRepo_AggregateQuery(t *testing.T) {
	repo := NewLedgerRepo(nil)

	sql, args, err := repo.aggregateQuery(key, march(3)).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "SUM(qty) FILTER (WHERE direction = 'IN')")
	assert.Contains(t, sql, "SUM(qty) FILTER (WHERE direction = 'OUT')")
	assert.Contains(t, sql, "SUM(qty) FILTER (WHERE direction = 'ADJUSTMENT')")
	assert.Contains(t, sql, "deleted_at IS NULL")
	assert.Contains(t, sql, "transaction_date = $3")
	assert.Equal(t, []any{"C1", "RM-01", march(3)}, args)
}

func TestLedgerRepo_SumThroughQuery(t *testing.T) {
	repo := NewLedgerRepo(nil)

	sql, args, err := repo.sumThroughQuery(key, march(9)).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "CASE WHEN direction = 'OUT' THEN -qty ELSE qty END")
	assert.Contains(t, sql, "deleted_at IS NULL")
	assert.Contains(t, sql, "transaction_date <= $3")
	assert.Equal(t, []any{"C1", "RM-01", march(9)}, args)
}

func TestLedgerRepo_ActivityQuery(t *testing.T) {
	repo := NewLedgerRepo(nil)

	sql, _, err := repo.activityQuery(key, march(4)).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "SELECT DISTINCT transaction_date FROM inv_ledger_entries")
	assert.Contains(t, sql, "transaction_date >= $3")
	assert.Contains(t, sql, "ORDER BY transaction_date")
}

func TestLedgerColumns(t *testing.T) {
	assert.Equal(t, []string{
		"id", "company_code", "item_code", "transaction_date", "source", "direction",
		"qty", "document_no", "remarks", "created_at", "deleted_at",
	}, ledgerColumns)

	e := entity.NewLedgerEntry(key, march(1), entity.SourceScrap, types.MustQuantity("2"))
	assert.Len(t, ledgerValues(e), len(ledgerColumns))
}
