// Package items holds the item master contract used by the stock engine.
package items

import (
	"context"

	"bondstock/internal/core/entity"
)

// Repository reads and seeds item master data. Master-data editing is
// owned by another system; Upsert exists for imports and seeding.
type Repository interface {
	// GetItem returns apperror.ItemNotFound when the item is unknown.
	GetItem(ctx context.Context, key entity.ItemKey) (*entity.Item, error)

	// Upsert inserts or overwrites the item.
	Upsert(ctx context.Context, item entity.Item) error

	// ListByCompany returns the company's items ordered by item code.
	ListByCompany(ctx context.Context, companyCode string) ([]entity.Item, error)
}
