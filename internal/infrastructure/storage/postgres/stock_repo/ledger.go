package stock_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/storage/postgres"
)

const ledgerTable = "inv_ledger_entries"

type ledgerRow struct {
	ID              id.ID            `db:"id"`
	CompanyCode     string           `db:"company_code"`
	ItemCode        string           `db:"item_code"`
	TransactionDate time.Time        `db:"transaction_date"`
	Source          entity.Source    `db:"source"`
	Direction       entity.Direction `db:"direction"`
	Qty             decimal.Decimal  `db:"qty"`
	DocumentNo      string           `db:"document_no"`
	Remarks         string           `db:"remarks"`
	CreatedAt       time.Time        `db:"created_at"`
	DeletedAt       *time.Time       `db:"deleted_at"`
}

var ledgerColumns = postgres.ExtractDBColumns[ledgerRow]()

func (r ledgerRow) toEntity() entity.LedgerEntry {
	return entity.LedgerEntry{
		ID:              r.ID,
		ItemKey:         entity.ItemKey{CompanyCode: r.CompanyCode, ItemCode: r.ItemCode},
		TransactionDate: types.Day(r.TransactionDate),
		Source:          r.Source,
		Direction:       r.Direction,
		Qty:             types.NewQuantityFromDecimal(r.Qty),
		DocumentNo:      r.DocumentNo,
		Remarks:         r.Remarks,
		CreatedAt:       r.CreatedAt,
		DeletedAt:       r.DeletedAt,
	}
}

func ledgerValues(e *entity.LedgerEntry) []any {
	return []any{
		e.ID, e.CompanyCode, e.ItemCode, types.Day(e.TransactionDate),
		e.Source, e.Direction, e.Qty.Decimal(),
		e.DocumentNo, e.Remarks, e.CreatedAt, e.DeletedAt,
	}
}

// signedQty is the balance effect of a row: OUT subtracts, IN and ADJUSTMENT add.
const signedQty = "CASE WHEN direction = 'OUT' THEN -qty ELSE qty END"

// LedgerRepo implements ledger.Repository and snapshot.LedgerReader.
type LedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var (
	_ ledger.Repository     = (*LedgerRepo)(nil)
	_ snapshot.LedgerReader = (*LedgerRepo)(nil)
)

func (r *LedgerRepo) live(key entity.ItemKey) squirrel.And {
	return squirrel.And{
		squirrel.Eq{"company_code": key.CompanyCode, "item_code": key.ItemCode},
		squirrel.Eq{"deleted_at": nil},
	}
}

// Create inserts a new entry.
func (r *LedgerRepo) Create(ctx context.Context, e *entity.LedgerEntry) error {
	q := r.builder.Insert(ledgerTable).
		Columns(ledgerColumns...).
		Values(ledgerValues(e)...)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("ledger entry already exists").WithDetail("id", e.ID.String())
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// CreateBatch bulk loads entries with COPY. Must run inside a transaction.
func (r *LedgerRepo) CreateBatch(ctx context.Context, entries []*entity.LedgerEntry) (int64, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, ledgerValues(e))
	}
	n, err := postgres.CopyRows(ctx, r.txm, ledgerTable, ledgerColumns, rows)
	if err != nil {
		return 0, fmt.Errorf("copy ledger entries: %w", err)
	}
	return n, nil
}

// GetByID returns an entry including voided ones.
func (r *LedgerRepo) GetByID(ctx context.Context, entryID id.ID) (*entity.LedgerEntry, error) {
	q := r.builder.Select(ledgerColumns...).
		From(ledgerTable).
		Where(squirrel.Eq{"id": entryID})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row ledgerRow
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("ledger_entry", entryID.String())
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}

	e := row.toEntity()
	return &e, nil
}

// SoftDelete marks a live entry voided.
func (r *LedgerRepo) SoftDelete(ctx context.Context, entryID id.ID, at time.Time) error {
	q := r.builder.Update(ledgerTable).
		Set("deleted_at", at.UTC()).
		Where(squirrel.Eq{"id": entryID, "deleted_at": nil})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("void ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("ledger_entry", entryID.String())
	}
	return nil
}

func (r *LedgerRepo) sumThroughQuery(key entity.ItemKey, date time.Time) squirrel.SelectBuilder {
	return r.builder.Select("COALESCE(SUM(" + signedQty + "), 0)").
		From(ledgerTable).
		Where(r.live(key)).
		Where(squirrel.LtOrEq{"transaction_date": types.Day(date)})
}

// SumThrough returns the signed balance of live entries up to and including date.
func (r *LedgerRepo) SumThrough(ctx context.Context, key entity.ItemKey, date time.Time) (types.Quantity, error) {
	sql, args, err := r.sumThroughQuery(key, date).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var sum decimal.Decimal
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return types.NewQuantityFromDecimal(sum), nil
}

// List returns live entries ordered by date then creation.
func (r *LedgerRepo) List(ctx context.Context, f ledger.ListFilter) ([]entity.LedgerEntry, error) {
	q := r.builder.Select(ledgerColumns...).
		From(ledgerTable).
		Where(squirrel.Eq{"deleted_at": nil}).
		OrderBy("transaction_date", "created_at")

	if f.CompanyCode != "" {
		q = q.Where(squirrel.Eq{"company_code": f.CompanyCode})
	}
	if f.ItemCode != "" {
		q = q.Where(squirrel.Eq{"item_code": f.ItemCode})
	}
	if f.From != nil {
		q = q.Where(squirrel.GtOrEq{"transaction_date": types.Day(*f.From)})
	}
	if f.To != nil {
		q = q.Where(squirrel.LtOrEq{"transaction_date": types.Day(*f.To)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []ledgerRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}

	out := make([]entity.LedgerEntry, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

func (r *LedgerRepo) aggregateQuery(key entity.ItemKey, date time.Time) squirrel.SelectBuilder {
	return r.builder.Select(
		"COALESCE(SUM(qty) FILTER (WHERE direction = 'IN'), 0) AS incoming_qty",
		"COALESCE(SUM(qty) FILTER (WHERE direction = 'OUT'), 0) AS outgoing_qty",
		"COALESCE(SUM(qty) FILTER (WHERE direction = 'ADJUSTMENT'), 0) AS adjustment_qty",
	).
		From(ledgerTable).
		Where(r.live(key)).
		Where(squirrel.Eq{"transaction_date": types.Day(date)})
}

// Aggregate sums the live movement of key on date.
func (r *LedgerRepo) Aggregate(ctx context.Context, key entity.ItemKey, date time.Time) (entity.DayAggregate, error) {
	sql, args, err := r.aggregateQuery(key, date).ToSql()
	if err != nil {
		return entity.DayAggregate{}, fmt.Errorf("build query: %w", err)
	}

	var in, out, adj decimal.Decimal
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&in, &out, &adj); err != nil {
		return entity.DayAggregate{}, fmt.Errorf("aggregate ledger: %w", err)
	}

	return entity.DayAggregate{
		Incoming:   types.NewQuantityFromDecimal(in),
		Outgoing:   types.NewQuantityFromDecimal(out),
		Adjustment: types.NewQuantityFromDecimal(adj),
	}, nil
}

func (r *LedgerRepo) activityQuery(key entity.ItemKey, from time.Time) squirrel.SelectBuilder {
	return r.builder.Select("DISTINCT transaction_date").
		From(ledgerTable).
		Where(r.live(key)).
		Where(squirrel.GtOrEq{"transaction_date": types.Day(from)}).
		OrderBy("transaction_date")
}

// ActivityDatesFrom returns distinct dates >= from with live entries.
func (r *LedgerRepo) ActivityDatesFrom(ctx context.Context, key entity.ItemKey, from time.Time) ([]time.Time, error) {
	sql, args, err := r.activityQuery(key, from).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var dates []time.Time
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &dates, sql, args...); err != nil {
		return nil, fmt.Errorf("list activity dates: %w", err)
	}
	for i := range dates {
		dates[i] = types.Day(dates[i])
	}
	return dates, nil
}
