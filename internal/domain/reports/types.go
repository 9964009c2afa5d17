// Package reports builds customs stock reports from daily snapshots.
package reports

import (
	"time"

	"bondstock/internal/core/types"
)

// --- Stock Position Report ---

// StockPositionFilter defines filter for the stock position report.
type StockPositionFilter struct {
	CompanyCode string

	// AsOfDate - report date (defaults to today)
	AsOfDate *time.Time

	ItemType  string
	ItemCodes []string

	// Exclude zero balances
	ExcludeZero bool

	// Pagination
	Limit  int
	Offset int
}

// StockPositionItem is the balance of one item on the report date.
type StockPositionItem struct {
	ItemCode     string         `json:"itemCode"`
	ItemName     string         `json:"itemName"`
	ItemType     string         `json:"itemType"`
	UOM          string         `json:"uom"`
	Balance      types.Quantity `json:"balance"`
	SnapshotDate time.Time      `json:"snapshotDate"`
}

// StockPositionReport represents the full stock position report.
type StockPositionReport struct {
	CompanyCode string              `json:"companyCode"`
	AsOfDate    time.Time           `json:"asOfDate"`
	Items       []StockPositionItem `json:"items"`
	TotalItems  int                 `json:"totalItems"`
}

// --- Mutation Report (LPJ mutasi) ---

// MutationFilter defines filter for the mutation report.
type MutationFilter struct {
	CompanyCode string

	// Period (required)
	FromDate time.Time
	ToDate   time.Time

	ItemType  string
	ItemCodes []string

	// Include items without balance or movement
	IncludeZero bool

	// Pagination
	Limit  int
	Offset int
}

// MutationItem is one item's movement over the period.
type MutationItem struct {
	ItemCode       string         `json:"itemCode"`
	ItemName       string         `json:"itemName"`
	ItemType       string         `json:"itemType"`
	UOM            string         `json:"uom"`
	OpeningBalance types.Quantity `json:"openingBalance"`
	Incoming       types.Quantity `json:"incoming"`
	Outgoing       types.Quantity `json:"outgoing"`
	Adjustment     types.Quantity `json:"adjustment"`
	ClosingBalance types.Quantity `json:"closingBalance"`
}

// MutationReport represents the full mutation report.
type MutationReport struct {
	CompanyCode string         `json:"companyCode"`
	FromDate    time.Time      `json:"fromDate"`
	ToDate      time.Time      `json:"toDate"`
	Items       []MutationItem `json:"items"`
	TotalItems  int            `json:"totalItems"`

	// Summary totals (over all items, not only the page)
	TotalOpening    types.Quantity `json:"totalOpening"`
	TotalIncoming   types.Quantity `json:"totalIncoming"`
	TotalOutgoing   types.Quantity `json:"totalOutgoing"`
	TotalAdjustment types.Quantity `json:"totalAdjustment"`
	TotalClosing    types.Quantity `json:"totalClosing"`
}
