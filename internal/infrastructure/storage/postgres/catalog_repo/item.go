// Package catalog_repo provides the PostgreSQL item master repository.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/domain/items"
	"bondstock/internal/infrastructure/storage/postgres"
)

const itemsTable = "inv_items"

var itemColumns = postgres.ExtractDBColumns[entity.Item]()

// ItemRepo implements items.Repository on inv_items.
type ItemRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewItemRepo creates a new item repository.
func NewItemRepo(txm *postgres.TxManager) *ItemRepo {
	return &ItemRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ items.Repository = (*ItemRepo)(nil)

func (r *ItemRepo) getQuery(key entity.ItemKey) squirrel.SelectBuilder {
	return r.builder.Select(itemColumns...).
		From(itemsTable).
		Where(squirrel.Eq{"company_code": key.CompanyCode, "item_code": key.ItemCode})
}

// GetItem returns the item or apperror.ItemNotFound.
func (r *ItemRepo) GetItem(ctx context.Context, key entity.ItemKey) (*entity.Item, error) {
	sql, args, err := r.getQuery(key).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var item entity.Item
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &item, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewItemNotFound(key.CompanyCode, key.ItemCode)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

func (r *ItemRepo) upsertQuery(item entity.Item) squirrel.InsertBuilder {
	return r.builder.Insert(itemsTable).
		SetMap(postgres.StructToMap(item)).
		Suffix(`ON CONFLICT (company_code, item_code) DO UPDATE SET
			item_type = EXCLUDED.item_type,
			item_name = EXCLUDED.item_name,
			uom = EXCLUDED.uom`)
}

// Upsert inserts or overwrites the item.
func (r *ItemRepo) Upsert(ctx context.Context, item entity.Item) error {
	sql, args, err := r.upsertQuery(item).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// UpsertBatch writes all items in one round-trip. Requires a transaction.
func (r *ItemRepo) UpsertBatch(ctx context.Context, list []entity.Item) error {
	batch := postgres.NewBatch(r.txm)
	for _, item := range list {
		if err := batch.Add(r.upsertQuery(item)); err != nil {
			return err
		}
	}
	if _, err := batch.Exec(ctx); err != nil {
		return fmt.Errorf("upsert items: %w", err)
	}
	return nil
}

// ListByCompany returns the company's items ordered by item code.
func (r *ItemRepo) ListByCompany(ctx context.Context, companyCode string) ([]entity.Item, error) {
	sql, args, err := r.builder.Select(itemColumns...).
		From(itemsTable).
		Where(squirrel.Eq{"company_code": companyCode}).
		OrderBy("item_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var list []entity.Item
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, sql, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return list, nil
}
