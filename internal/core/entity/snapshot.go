package entity

import (
	"time"

	"bondstock/internal/core/types"
)

// DayAggregate is the summed ledger movement of one item on one day.
// The zero value is valid: no movement that day.
type DayAggregate struct {
	Incoming   types.Quantity `db:"incoming_qty" json:"incoming"`
	Outgoing   types.Quantity `db:"outgoing_qty" json:"outgoing"`
	Adjustment types.Quantity `db:"adjustment_qty" json:"adjustment"`
}

// Add accumulates a single entry into the aggregate.
func (a *DayAggregate) Add(direction Direction, qty types.Quantity) {
	switch direction {
	case DirectionIn:
		a.Incoming += qty
	case DirectionOut:
		a.Outgoing += qty
	case DirectionAdjustment:
		a.Adjustment += qty
	}
}

// Net returns incoming - outgoing + adjustment.
func (a DayAggregate) Net() types.Quantity {
	return a.Incoming - a.Outgoing + a.Adjustment
}

// Snapshot is the daily running balance of one item (one row per company+item+date).
// Rows are created or overwritten only by the snapshot upserter.
//
// Invariant: for chronologically adjacent snapshots S1 < S2 of the same key,
// S2.OpeningBalance == S1.ClosingBalance.
type Snapshot struct {
	ItemKey

	ItemType string `db:"item_type" json:"itemType"`
	ItemName string `db:"item_name" json:"itemName"`
	UOM      string `db:"uom" json:"uom"`

	SnapshotDate time.Time `db:"snapshot_date" json:"snapshotDate"`

	OpeningBalance types.Quantity `db:"opening_balance" json:"openingBalance"`
	IncomingQty    types.Quantity `db:"incoming_qty" json:"incomingQty"`
	OutgoingQty    types.Quantity `db:"outgoing_qty" json:"outgoingQty"`
	AdjustmentQty  types.Quantity `db:"adjustment_qty" json:"adjustmentQty"`
	ClosingBalance types.Quantity `db:"closing_balance" json:"closingBalance"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewSnapshot computes a day's snapshot from the opening balance and the day's aggregate.
func NewSnapshot(item Item, date time.Time, opening types.Quantity, agg DayAggregate) Snapshot {
	return Snapshot{
		ItemKey:        item.ItemKey,
		ItemType:       item.ItemType,
		ItemName:       item.ItemName,
		UOM:            item.UOM,
		SnapshotDate:   types.Day(date),
		OpeningBalance: opening,
		IncomingQty:    agg.Incoming,
		OutgoingQty:    agg.Outgoing,
		AdjustmentQty:  agg.Adjustment,
		ClosingBalance: opening + agg.Net(),
		UpdatedAt:      time.Now().UTC(),
	}
}

// SameBalances compares the balance columns only (UpdatedAt ignored).
func (s Snapshot) SameBalances(o Snapshot) bool {
	return s.ItemKey == o.ItemKey &&
		s.SnapshotDate.Equal(o.SnapshotDate) &&
		s.OpeningBalance == o.OpeningBalance &&
		s.IncomingQty == o.IncomingQty &&
		s.OutgoingQty == o.OutgoingQty &&
		s.AdjustmentQty == o.AdjustmentQty &&
		s.ClosingBalance == o.ClosingBalance
}
