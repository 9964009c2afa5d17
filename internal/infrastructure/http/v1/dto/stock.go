package dto

import (
	"time"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
)

// StockCountRequest records a physical count (stock opname).
type StockCountRequest struct {
	CompanyCode string         `json:"companyCode" binding:"required"`
	ItemCode    string         `json:"itemCode" binding:"required"`
	CountDate   string         `json:"countDate" binding:"required"`
	CountedQty  types.Quantity `json:"countedQty"`
	DocumentNo  string         `json:"documentNo"`
	Remarks     string         `json:"remarks"`
}

// ToStockCount converts the request to a domain count.
func (r *StockCountRequest) ToStockCount() (*ledger.StockCount, error) {
	date, err := ParseDate("countDate", r.CountDate)
	if err != nil {
		return nil, err
	}
	return &ledger.StockCount{
		ItemKey:    entity.NewItemKey(r.CompanyCode, r.ItemCode),
		CountDate:  date,
		CountedQty: r.CountedQty,
		DocumentNo: r.DocumentNo,
		Remarks:    r.Remarks,
	}, nil
}

// StockCountResponse compares the count with the book balance.
type StockCountResponse struct {
	BookQty    types.Quantity       `json:"bookQty"`
	CountedQty types.Quantity       `json:"countedQty"`
	Variance   types.Quantity       `json:"variance"`
	Entry      *LedgerEntryResponse `json:"entry,omitempty"`
}

// FromStockCountResult converts the domain result.
func FromStockCountResult(r *ledger.StockCountResult) StockCountResponse {
	resp := StockCountResponse{
		BookQty:    r.BookQty,
		CountedQty: r.CountedQty,
		Variance:   r.Variance,
	}
	if r.Entry != nil {
		e := FromLedgerEntry(r.Entry)
		resp.Entry = &e
	}
	return resp
}

// AvailabilityRequest asks whether qty can be taken out on date.
type AvailabilityRequest struct {
	CompanyCode string `form:"companyCode" binding:"required"`
	ItemCode    string `form:"itemCode" binding:"required"`
	ItemType    string `form:"itemType"`
	Qty         string `form:"qty" binding:"required"`
	Date        string `form:"date" binding:"required"`
}

// AvailabilityResponse answers an availability check.
type AvailabilityResponse struct {
	Available    bool           `json:"available"`
	CurrentStock types.Quantity `json:"currentStock"`
	Shortfall    types.Quantity `json:"shortfall"`
	Reason       string         `json:"reason,omitempty"`
	SnapshotDate *string        `json:"snapshotDate,omitempty"`
}

// FromAvailability converts the domain answer.
func FromAvailability(a snapshot.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		Available:    a.Available,
		CurrentStock: a.CurrentStock,
		Shortfall:    a.Shortfall,
		Reason:       a.Reason,
		SnapshotDate: DatePtr(a.SnapshotDate),
	}
}

// SnapshotListRequest filters the snapshot listing.
type SnapshotListRequest struct {
	CompanyCode string   `form:"companyCode" binding:"required"`
	ItemCodes   []string `form:"itemCode"`
	ItemType    string   `form:"itemType"`
	FromDate    string   `form:"fromDate" binding:"required"`
	ToDate      string   `form:"toDate" binding:"required"`
}

// SnapshotResponse represents one daily snapshot.
type SnapshotResponse struct {
	CompanyCode    string         `json:"companyCode"`
	ItemCode       string         `json:"itemCode"`
	ItemType       string         `json:"itemType"`
	ItemName       string         `json:"itemName"`
	UOM            string         `json:"uom"`
	SnapshotDate   string         `json:"snapshotDate"`
	OpeningBalance types.Quantity `json:"openingBalance"`
	IncomingQty    types.Quantity `json:"incomingQty"`
	OutgoingQty    types.Quantity `json:"outgoingQty"`
	AdjustmentQty  types.Quantity `json:"adjustmentQty"`
	ClosingBalance types.Quantity `json:"closingBalance"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// FromSnapshot converts entity to response DTO.
func FromSnapshot(s entity.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		CompanyCode:    s.CompanyCode,
		ItemCode:       s.ItemCode,
		ItemType:       s.ItemType,
		ItemName:       s.ItemName,
		UOM:            s.UOM,
		SnapshotDate:   Date(s.SnapshotDate),
		OpeningBalance: s.OpeningBalance,
		IncomingQty:    s.IncomingQty,
		OutgoingQty:    s.OutgoingQty,
		AdjustmentQty:  s.AdjustmentQty,
		ClosingBalance: s.ClosingBalance,
		UpdatedAt:      s.UpdatedAt,
	}
}

// FromSnapshots converts a slice of snapshots.
func FromSnapshots(list []entity.Snapshot) []SnapshotResponse {
	out := make([]SnapshotResponse, len(list))
	for i, s := range list {
		out[i] = FromSnapshot(s)
	}
	return out
}

// RecalculateRequest starts a synchronous cascade.
type RecalculateRequest struct {
	CompanyCode string `json:"companyCode" binding:"required"`
	ItemCode    string `json:"itemCode" binding:"required"`
	FromDate    string `json:"fromDate" binding:"required"`
}

// RecalculateResponse reports the rewritten dates.
type RecalculateResponse struct {
	CompanyCode string             `json:"companyCode"`
	ItemCode    string             `json:"itemCode"`
	FromDate    string             `json:"fromDate"`
	Affected    []string           `json:"affected"`
	Snapshots   []SnapshotResponse `json:"snapshots"`
}

// FromCascadeResult converts the cascade result.
func FromCascadeResult(r snapshot.CascadeResult) RecalculateResponse {
	affected := make([]string, len(r.Affected))
	for i, d := range r.Affected {
		affected[i] = Date(d)
	}
	return RecalculateResponse{
		CompanyCode: r.Key.CompanyCode,
		ItemCode:    r.Key.ItemCode,
		FromDate:    Date(r.Start),
		Affected:    affected,
		Snapshots:   FromSnapshots(r.Snapshots),
	}
}

// RecalcStatusResponse reports background recalculation state.
type RecalcStatusResponse struct {
	PendingKeys int                    `json:"pendingKeys"`
	Backlog     []BacklogEntryResponse `json:"backlog"`
}

// BacklogEntryResponse is one deferred recalculation.
type BacklogEntryResponse struct {
	CompanyCode string    `json:"companyCode"`
	ItemCode    string    `json:"itemCode"`
	ResumeFrom  string    `json:"resumeFrom"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	NextRetryAt time.Time `json:"nextRetryAt"`
}

// FromBacklogEntries converts deferred recalculations.
func FromBacklogEntries(entries []snapshot.BacklogEntry) []BacklogEntryResponse {
	out := make([]BacklogEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = BacklogEntryResponse{
			CompanyCode: e.CompanyCode,
			ItemCode:    e.ItemCode,
			ResumeFrom:  Date(e.ResumeFrom),
			Attempts:    e.Attempts,
			LastError:   e.LastError,
			NextRetryAt: e.NextRetryAt,
		}
	}
	return out
}

// RunHistoryRequest selects the item whose cascade runs are listed.
type RunHistoryRequest struct {
	CompanyCode string `form:"companyCode" binding:"required"`
	ItemCode    string `form:"itemCode" binding:"required"`
}

// RunResponse is one journaled cascade run.
type RunResponse struct {
	StartDate  string             `json:"startDate"`
	ResumeFrom *string            `json:"resumeFrom,omitempty"`
	Affected   int                `json:"affected"`
	DurationMs int64              `json:"durationMs"`
	Status     string             `json:"status"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	Snapshots  []SnapshotResponse `json:"snapshots"`
}

// FromRuns converts journaled runs.
func FromRuns(runs []snapshot.Run) []RunResponse {
	out := make([]RunResponse, len(runs))
	for i, r := range runs {
		out[i] = RunResponse{
			StartDate:  Date(r.Start),
			ResumeFrom: DatePtr(r.ResumeFrom),
			Affected:   r.Affected,
			DurationMs: r.Duration.Milliseconds(),
			Status:     string(r.Status),
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			Snapshots:  FromSnapshots(r.Snapshots),
		}
	}
	return out
}
