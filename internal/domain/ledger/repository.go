// Package ledger posts inventory movements and keeps snapshots in step with them.
package ledger

import (
	"context"
	"time"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
)

// Repository persists ledger entries.
type Repository interface {
	// Create inserts a new entry.
	Create(ctx context.Context, e *entity.LedgerEntry) error

	// GetByID returns the entry including voided ones; apperror.NotFound when missing.
	GetByID(ctx context.Context, entryID id.ID) (*entity.LedgerEntry, error)

	// SoftDelete marks the entry voided at the given time.
	SoftDelete(ctx context.Context, entryID id.ID, at time.Time) error

	// SumThrough returns the signed balance of all live entries of key up to and including date.
	SumThrough(ctx context.Context, key entity.ItemKey, date time.Time) (types.Quantity, error)

	// List returns live entries matching the filter ordered by date then creation.
	List(ctx context.Context, filter ListFilter) ([]entity.LedgerEntry, error)
}

// ListFilter narrows ledger listing.
type ListFilter struct {
	CompanyCode string
	ItemCode    string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}
