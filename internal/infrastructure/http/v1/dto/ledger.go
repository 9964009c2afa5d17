package dto

import (
	"time"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
)

// LedgerEntryRequest posts or replaces a ledger entry.
type LedgerEntryRequest struct {
	CompanyCode     string         `json:"companyCode" binding:"required"`
	ItemCode        string         `json:"itemCode" binding:"required"`
	TransactionDate string         `json:"transactionDate" binding:"required"`
	Source          string         `json:"source" binding:"required"`
	Qty             types.Quantity `json:"qty"`
	DocumentNo      string         `json:"documentNo"`
	Remarks         string         `json:"remarks"`
}

// ToEntity converts the request into a new ledger entry.
func (r *LedgerEntryRequest) ToEntity() (*entity.LedgerEntry, error) {
	date, err := ParseDate("transactionDate", r.TransactionDate)
	if err != nil {
		return nil, err
	}

	e := entity.NewLedgerEntry(
		entity.NewItemKey(r.CompanyCode, r.ItemCode),
		date,
		entity.Source(r.Source),
		r.Qty,
	)
	e.DocumentNo = r.DocumentNo
	e.Remarks = r.Remarks
	return e, nil
}

// LedgerEntryResponse represents a ledger entry in API responses.
type LedgerEntryResponse struct {
	ID              string         `json:"id"`
	CompanyCode     string         `json:"companyCode"`
	ItemCode        string         `json:"itemCode"`
	TransactionDate string         `json:"transactionDate"`
	Source          string         `json:"source"`
	Direction       string         `json:"direction"`
	Qty             types.Quantity `json:"qty"`
	DocumentNo      string         `json:"documentNo,omitempty"`
	Remarks         string         `json:"remarks,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	VoidedAt        *time.Time     `json:"voidedAt,omitempty"`
}

// FromLedgerEntry converts entity to response DTO.
func FromLedgerEntry(e *entity.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:              e.ID.String(),
		CompanyCode:     e.CompanyCode,
		ItemCode:        e.ItemCode,
		TransactionDate: Date(e.TransactionDate),
		Source:          string(e.Source),
		Direction:       string(e.Direction),
		Qty:             e.Qty,
		DocumentNo:      e.DocumentNo,
		Remarks:         e.Remarks,
		CreatedAt:       e.CreatedAt,
		VoidedAt:        e.DeletedAt,
	}
}

// LedgerListRequest filters the entry listing.
type LedgerListRequest struct {
	CompanyCode string  `form:"companyCode" binding:"required"`
	ItemCode    string  `form:"itemCode"`
	FromDate    *string `form:"fromDate"`
	ToDate      *string `form:"toDate"`
	Limit       int     `form:"limit"`
	Offset      int     `form:"offset"`
}
