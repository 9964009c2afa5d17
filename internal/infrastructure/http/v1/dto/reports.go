package dto

import (
	"bondstock/internal/core/types"
	"bondstock/internal/domain/reports"
)

// --- Stock Position Report ---

// StockPositionRequest represents query parameters for the stock position report.
type StockPositionRequest struct {
	CompanyCode string   `form:"companyCode" binding:"required"`
	AsOfDate    *string  `form:"asOfDate"`
	ItemType    string   `form:"itemType"`
	ItemCodes   []string `form:"itemCode"`
	ExcludeZero *bool    `form:"excludeZero"`
	Limit       int      `form:"limit"`
	Offset      int      `form:"offset"`
}

// StockPositionResponse represents the stock position report.
type StockPositionResponse struct {
	CompanyCode string                      `json:"companyCode"`
	AsOfDate    string                      `json:"asOfDate"`
	Items       []StockPositionItemResponse `json:"items"`
	TotalItems  int                         `json:"totalItems"`
}

// StockPositionItemResponse represents one item of the position report.
type StockPositionItemResponse struct {
	ItemCode     string         `json:"itemCode"`
	ItemName     string         `json:"itemName"`
	ItemType     string         `json:"itemType"`
	UOM          string         `json:"uom"`
	Balance      types.Quantity `json:"balance"`
	SnapshotDate string         `json:"snapshotDate"`
}

// FromStockPositionReport converts the domain report.
func FromStockPositionReport(r *reports.StockPositionReport) StockPositionResponse {
	items := make([]StockPositionItemResponse, len(r.Items))
	for i, it := range r.Items {
		items[i] = StockPositionItemResponse{
			ItemCode:     it.ItemCode,
			ItemName:     it.ItemName,
			ItemType:     it.ItemType,
			UOM:          it.UOM,
			Balance:      it.Balance,
			SnapshotDate: Date(it.SnapshotDate),
		}
	}
	return StockPositionResponse{
		CompanyCode: r.CompanyCode,
		AsOfDate:    Date(r.AsOfDate),
		Items:       items,
		TotalItems:  r.TotalItems,
	}
}

// --- Mutation Report ---

// MutationReportRequest represents query parameters for the mutation report.
type MutationReportRequest struct {
	CompanyCode string   `form:"companyCode" binding:"required"`
	FromDate    string   `form:"fromDate" binding:"required"`
	ToDate      string   `form:"toDate" binding:"required"`
	ItemType    string   `form:"itemType"`
	ItemCodes   []string `form:"itemCode"`
	IncludeZero bool     `form:"includeZero"`
	Limit       int      `form:"limit"`
	Offset      int      `form:"offset"`
}

// MutationReportResponse represents the mutation report.
type MutationReportResponse struct {
	CompanyCode string                 `json:"companyCode"`
	FromDate    string                 `json:"fromDate"`
	ToDate      string                 `json:"toDate"`
	Items       []reports.MutationItem `json:"items"`
	TotalItems  int                    `json:"totalItems"`
	Totals      MutationTotals         `json:"totals"`
}

// MutationTotals sums every item of the report.
type MutationTotals struct {
	Opening    types.Quantity `json:"opening"`
	Incoming   types.Quantity `json:"incoming"`
	Outgoing   types.Quantity `json:"outgoing"`
	Adjustment types.Quantity `json:"adjustment"`
	Closing    types.Quantity `json:"closing"`
}

// FromMutationReport converts the domain report.
func FromMutationReport(r *reports.MutationReport) MutationReportResponse {
	items := r.Items
	if items == nil {
		items = []reports.MutationItem{}
	}
	return MutationReportResponse{
		CompanyCode: r.CompanyCode,
		FromDate:    Date(r.FromDate),
		ToDate:      Date(r.ToDate),
		Items:       items,
		TotalItems:  r.TotalItems,
		Totals: MutationTotals{
			Opening:    r.TotalOpening,
			Incoming:   r.TotalIncoming,
			Outgoing:   r.TotalOutgoing,
			Adjustment: r.TotalAdjustment,
			Closing:    r.TotalClosing,
		},
	}
}
