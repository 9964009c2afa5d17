// Package stock_repo provides PostgreSQL implementations of the ledger and snapshot stores.
package stock_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/storage/postgres"
)

const snapshotsTable = "inv_stock_snapshots"

// snapshotRow mirrors inv_stock_snapshots; NUMERIC columns scan as decimals.
type snapshotRow struct {
	CompanyCode    string          `db:"company_code"`
	ItemCode       string          `db:"item_code"`
	ItemType       string          `db:"item_type"`
	ItemName       string          `db:"item_name"`
	UOM            string          `db:"uom"`
	SnapshotDate   time.Time       `db:"snapshot_date"`
	OpeningBalance decimal.Decimal `db:"opening_balance"`
	IncomingQty    decimal.Decimal `db:"incoming_qty"`
	OutgoingQty    decimal.Decimal `db:"outgoing_qty"`
	AdjustmentQty  decimal.Decimal `db:"adjustment_qty"`
	ClosingBalance decimal.Decimal `db:"closing_balance"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

var snapshotColumns = postgres.ExtractDBColumns[snapshotRow]()

func (r snapshotRow) toEntity() entity.Snapshot {
	return entity.Snapshot{
		ItemKey:        entity.ItemKey{CompanyCode: r.CompanyCode, ItemCode: r.ItemCode},
		ItemType:       r.ItemType,
		ItemName:       r.ItemName,
		UOM:            r.UOM,
		SnapshotDate:   types.Day(r.SnapshotDate),
		OpeningBalance: types.NewQuantityFromDecimal(r.OpeningBalance),
		IncomingQty:    types.NewQuantityFromDecimal(r.IncomingQty),
		OutgoingQty:    types.NewQuantityFromDecimal(r.OutgoingQty),
		AdjustmentQty:  types.NewQuantityFromDecimal(r.AdjustmentQty),
		ClosingBalance: types.NewQuantityFromDecimal(r.ClosingBalance),
		UpdatedAt:      r.UpdatedAt,
	}
}

func toEntities(rows []snapshotRow) []entity.Snapshot {
	out := make([]entity.Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.toEntity()
	}
	return out
}

// SnapshotRepo implements snapshot.Repository.
type SnapshotRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewSnapshotRepo creates a new snapshot repository.
func NewSnapshotRepo(txm *postgres.TxManager) *SnapshotRepo {
	return &SnapshotRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ snapshot.Repository = (*SnapshotRepo)(nil)

func (r *SnapshotRepo) keyWhere(key entity.ItemKey) squirrel.Eq {
	return squirrel.Eq{"company_code": key.CompanyCode, "item_code": key.ItemCode}
}

// latestQuery selects the newest row before date, or at-or-before when inclusive.
func (r *SnapshotRepo) latestQuery(key entity.ItemKey, date time.Time, inclusive bool) squirrel.SelectBuilder {
	var bound squirrel.Sqlizer = squirrel.Lt{"snapshot_date": types.Day(date)}
	if inclusive {
		bound = squirrel.LtOrEq{"snapshot_date": types.Day(date)}
	}
	return r.builder.Select(snapshotColumns...).
		From(snapshotsTable).
		Where(r.keyWhere(key)).
		Where(bound).
		OrderBy("snapshot_date DESC").
		Limit(1)
}

func (r *SnapshotRepo) getOne(ctx context.Context, q squirrel.SelectBuilder) (*entity.Snapshot, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row snapshotRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	s := row.toEntity()
	return &s, nil
}

// GetLatestBefore returns the newest snapshot strictly before date.
func (r *SnapshotRepo) GetLatestBefore(ctx context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error) {
	return r.getOne(ctx, r.latestQuery(key, date, false))
}

// GetLatestAtOrBefore returns the newest snapshot on or before date.
func (r *SnapshotRepo) GetLatestAtOrBefore(ctx context.Context, key entity.ItemKey, date time.Time) (*entity.Snapshot, error) {
	return r.getOne(ctx, r.latestQuery(key, date, true))
}

// ListDatesFrom returns snapshot dates >= from, ascending.
func (r *SnapshotRepo) ListDatesFrom(ctx context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error) {
	q := r.builder.Select("snapshot_date").
		From(snapshotsTable).
		Where(r.keyWhere(key)).
		Where(squirrel.GtOrEq{"snapshot_date": types.Day(from)}).
		OrderBy("snapshot_date")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var dates []time.Time
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &dates, sql, args...); err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	for i := range dates {
		dates[i] = types.Day(dates[i])
	}
	return dates, nil
}

func (r *SnapshotRepo) upsertQuery(s entity.Snapshot) squirrel.InsertBuilder {
	return r.builder.Insert(snapshotsTable).
		Columns(snapshotColumns...).
		Values(
			s.CompanyCode, s.ItemCode, s.ItemType, s.ItemName, s.UOM,
			types.Day(s.SnapshotDate),
			s.OpeningBalance.Decimal(), s.IncomingQty.Decimal(), s.OutgoingQty.Decimal(),
			s.AdjustmentQty.Decimal(), s.ClosingBalance.Decimal(),
			s.UpdatedAt,
		).
		Suffix(`ON CONFLICT (company_code, item_code, snapshot_date) DO UPDATE SET
			item_type = EXCLUDED.item_type,
			item_name = EXCLUDED.item_name,
			uom = EXCLUDED.uom,
			opening_balance = EXCLUDED.opening_balance,
			incoming_qty = EXCLUDED.incoming_qty,
			outgoing_qty = EXCLUDED.outgoing_qty,
			adjustment_qty = EXCLUDED.adjustment_qty,
			closing_balance = EXCLUDED.closing_balance,
			updated_at = EXCLUDED.updated_at`)
}

// Upsert inserts or overwrites the (company, item, date) row.
func (r *SnapshotRepo) Upsert(ctx context.Context, s entity.Snapshot) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	sql, args, err := r.upsertQuery(s).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) applyFilter(q squirrel.SelectBuilder, f snapshot.RangeFilter) squirrel.SelectBuilder {
	q = q.Where(squirrel.Eq{"company_code": f.CompanyCode})
	if len(f.ItemCodes) > 0 {
		q = q.Where(squirrel.Eq{"item_code": f.ItemCodes})
	}
	if f.ItemType != "" {
		q = q.Where(squirrel.Eq{"item_type": f.ItemType})
	}
	return q
}

func (r *SnapshotRepo) rangeQuery(f snapshot.RangeFilter) squirrel.SelectBuilder {
	q := r.builder.Select(snapshotColumns...).From(snapshotsTable)
	return r.applyFilter(q, f).
		Where(squirrel.GtOrEq{"snapshot_date": types.Day(f.From)}).
		Where(squirrel.LtOrEq{"snapshot_date": types.Day(f.To)}).
		OrderBy("item_code", "snapshot_date")
}

func (r *SnapshotRepo) latestBeforeQuery(f snapshot.RangeFilter) squirrel.SelectBuilder {
	q := r.builder.Select(snapshotColumns...).
		Options("DISTINCT ON (item_code)").
		From(snapshotsTable)
	return r.applyFilter(q, f).
		Where(squirrel.Lt{"snapshot_date": types.Day(f.From)}).
		OrderBy("item_code", "snapshot_date DESC")
}

// ListRange returns the company's snapshots inside [From, To].
func (r *SnapshotRepo) ListRange(ctx context.Context, f snapshot.RangeFilter) ([]entity.Snapshot, error) {
	return r.selectMany(ctx, r.rangeQuery(f))
}

// ListLatestBefore returns, per item, the newest snapshot before From.
func (r *SnapshotRepo) ListLatestBefore(ctx context.Context, f snapshot.RangeFilter) ([]entity.Snapshot, error) {
	return r.selectMany(ctx, r.latestBeforeQuery(f))
}

func (r *SnapshotRepo) selectMany(ctx context.Context, q squirrel.SelectBuilder) ([]entity.Snapshot, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []snapshotRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select snapshots: %w", err)
	}
	return toEntities(rows), nil
}
