package snapshot

import (
	"context"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
)

// Reasons set on an unavailable Availability.
const (
	ReasonInsufficient     = "insufficient_stock"
	ReasonItemTypeMismatch = "item_type_mismatch"
	ReasonStoreUnavailable = "store_unavailable"
)

// Availability is the answer to "can qty be taken out on date?".
type Availability struct {
	Available    bool           `json:"available"`
	CurrentStock types.Quantity `json:"currentStock"`
	Shortfall    types.Quantity `json:"shortfall"`
	Reason       string         `json:"reason,omitempty"`
	// SnapshotDate is the date of the snapshot the answer is based on, nil when none.
	SnapshotDate *time.Time `json:"snapshotDate,omitempty"`
}

// AvailabilityChecker answers availability from snapshots only.
// It never triggers a recalculation.
type AvailabilityChecker struct {
	repo Repository
}

// NewAvailabilityChecker creates a new availability checker.
func NewAvailabilityChecker(repo Repository) *AvailabilityChecker {
	return &AvailabilityChecker{repo: repo}
}

// Check compares requested with the closing balance of the latest snapshot
// at or before date (0 when none). On store failure it fails closed: the
// returned Availability is unavailable and the error is returned alongside.
func (c *AvailabilityChecker) Check(ctx context.Context, key entity.ItemKey, itemType string, requested types.Quantity, date time.Time) (Availability, error) {
	if requested.IsNegative() {
		return Availability{Reason: "invalid_quantity"}, apperror.NewValidation("requested quantity must not be negative")
	}

	snap, err := c.repo.GetLatestAtOrBefore(ctx, key, types.Day(date))
	if err != nil {
		return Availability{Reason: ReasonStoreUnavailable}, storeError(ctx, "get latest snapshot", err)
	}

	var current types.Quantity
	var res Availability
	if snap != nil {
		if itemType != "" && snap.ItemType != itemType {
			return Availability{
				CurrentStock: snap.ClosingBalance,
				Reason:       ReasonItemTypeMismatch,
				SnapshotDate: &snap.SnapshotDate,
			}, nil
		}
		current = snap.ClosingBalance
		res.SnapshotDate = &snap.SnapshotDate
	}

	res.CurrentStock = current
	res.Available = current >= requested
	res.Shortfall = types.MaxQuantity(0, requested-current)
	if !res.Available {
		res.Reason = ReasonInsufficient
	}
	return res, nil
}
