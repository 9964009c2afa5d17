package snapshot

import (
	"context"
	"fmt"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
)

// Upserter computes and writes a single day's snapshot.
type Upserter struct {
	repo   Repository
	ledger LedgerReader
	items  ItemLookup
}

// NewUpserter creates a new snapshot upserter.
func NewUpserter(repo Repository, ledger LedgerReader, items ItemLookup) *Upserter {
	return &Upserter{
		repo:   repo,
		ledger: ledger,
		items:  items,
	}
}

// Upsert recomputes the snapshot of key on date:
// opening = closing of the latest snapshot strictly before date (0 if none),
// closing = opening + incoming - outgoing + adjustment.
func (u *Upserter) Upsert(ctx context.Context, key entity.ItemKey, date time.Time) (entity.Snapshot, error) {
	date = types.Day(date)

	item, err := u.lookupItem(ctx, key)
	if err != nil {
		return entity.Snapshot{}, err
	}

	prev, err := u.repo.GetLatestBefore(ctx, key, date)
	if err != nil {
		return entity.Snapshot{}, storeError(ctx, "get previous snapshot", err)
	}

	var opening types.Quantity
	if prev != nil {
		opening = prev.ClosingBalance
	}

	return u.write(ctx, *item, date, opening)
}

// write aggregates the day and stores the row with the given opening balance.
func (u *Upserter) write(ctx context.Context, item entity.Item, date time.Time, opening types.Quantity) (entity.Snapshot, error) {
	agg, err := u.ledger.Aggregate(ctx, item.ItemKey, date)
	if err != nil {
		return entity.Snapshot{}, storeError(ctx, "aggregate ledger", err)
	}

	snap := entity.NewSnapshot(item, date, opening, agg)
	if err := u.repo.Upsert(ctx, snap); err != nil {
		return entity.Snapshot{}, storeError(ctx, "upsert snapshot", err)
	}

	return snap, nil
}

func (u *Upserter) lookupItem(ctx context.Context, key entity.ItemKey) (*entity.Item, error) {
	item, err := u.items.GetItem(ctx, key)
	if err != nil {
		if apperror.IsItemNotFound(err) {
			return nil, err
		}
		return nil, storeError(ctx, "get item", err)
	}
	if item == nil {
		return nil, apperror.NewItemNotFound(key.CompanyCode, key.ItemCode)
	}
	return item, nil
}

// storeError classifies a repository failure. AppErrors pass through,
// cancellation stays a context error, anything else is transient.
func storeError(ctx context.Context, op string, err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return apperror.NewTransientStore(op, err)
}
