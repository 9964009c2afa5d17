package entity

import (
	"context"
	"strings"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
)

// Direction defines how a ledger entry moves the running balance.
type Direction string

const (
	// DirectionIn increases the balance (incoming_qty)
	DirectionIn Direction = "IN"
	// DirectionOut decreases the balance (outgoing_qty)
	DirectionOut Direction = "OUT"
	// DirectionAdjustment carries a signed correction (adjustment_qty)
	DirectionAdjustment Direction = "ADJUSTMENT"
)

// Source is the transaction table a ledger entry originates from.
type Source string

const (
	SourceIncoming              Source = "incoming"
	SourceOutgoing              Source = "outgoing"
	SourceProductionOutput      Source = "production_output"
	SourceProductionConsumption Source = "production_consumption"
	SourceScrap                 Source = "scrap"
	SourceAdjustment            Source = "adjustment"
	SourceStockOpname           Source = "stock_opname"
)

var sourceDirections = map[Source]Direction{
	SourceIncoming:              DirectionIn,
	SourceProductionOutput:      DirectionIn,
	SourceOutgoing:              DirectionOut,
	SourceProductionConsumption: DirectionOut,
	SourceScrap:                 DirectionOut,
	SourceAdjustment:            DirectionAdjustment,
	SourceStockOpname:           DirectionAdjustment,
}

// Direction returns the fixed direction of the source, or "" for unknown sources.
func (s Source) Direction() Direction {
	return sourceDirections[s]
}

// IsValid reports whether s is a known source.
func (s Source) IsValid() bool {
	_, ok := sourceDirections[s]
	return ok
}

// LedgerEntry is one posted inventory movement.
// Entries are immutable once posted: they are only soft-deleted, and a
// correction is modeled as void + recreate.
type LedgerEntry struct {
	ID id.ID `db:"id" json:"id"`

	ItemKey

	TransactionDate time.Time      `db:"transaction_date" json:"transactionDate"`
	Source          Source         `db:"source" json:"source"`
	Direction       Direction      `db:"direction" json:"direction"`
	Qty             types.Quantity `db:"qty" json:"qty"`

	// DocumentNo is the customs / internal document reference (BC 2.3, BC 2.5, ...)
	DocumentNo string `db:"document_no" json:"documentNo,omitempty"`
	Remarks    string `db:"remarks" json:"remarks,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

// NewLedgerEntry creates an entry with a fresh ID; direction is derived from source.
func NewLedgerEntry(key ItemKey, date time.Time, source Source, qty types.Quantity) *LedgerEntry {
	return &LedgerEntry{
		ID:              id.New(),
		ItemKey:         key,
		TransactionDate: types.Day(date),
		Source:          source,
		Direction:       source.Direction(),
		Qty:             qty,
		CreatedAt:       time.Now().UTC(),
	}
}

// IsDeleted reports whether the entry was voided.
func (e *LedgerEntry) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Validate implements Validatable.
func (e *LedgerEntry) Validate(_ context.Context) error {
	e.CompanyCode = strings.TrimSpace(e.CompanyCode)
	e.ItemCode = strings.TrimSpace(e.ItemCode)

	if e.CompanyCode == "" {
		return apperror.NewValidation("company_code is required")
	}
	if e.ItemCode == "" {
		return apperror.NewValidation("item_code is required")
	}
	if e.TransactionDate.IsZero() {
		return apperror.NewValidation("transaction_date is required")
	}
	if !e.Source.IsValid() {
		return apperror.NewValidation("unknown source").WithDetail("source", e.Source)
	}
	if e.Direction == "" {
		e.Direction = e.Source.Direction()
	}
	if e.Direction != e.Source.Direction() {
		return apperror.NewValidation("direction does not match source").
			WithDetail("source", e.Source).
			WithDetail("direction", e.Direction)
	}

	switch e.Direction {
	case DirectionIn, DirectionOut:
		if !e.Qty.IsPositive() {
			return apperror.NewValidation("qty must be positive").WithDetail("qty", e.Qty.String())
		}
	case DirectionAdjustment:
		if e.Qty.IsZero() {
			return apperror.NewValidation("adjustment qty must be non-zero")
		}
	}

	e.TransactionDate = types.Day(e.TransactionDate)
	return nil
}
