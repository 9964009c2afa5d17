package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/ledger"
	"bondstock/internal/domain/snapshot"
	"bondstock/internal/infrastructure/http/v1/dto"
)

// SnapshotReader lists stored snapshots.
type SnapshotReader interface {
	ListRange(ctx context.Context, filter snapshot.RangeFilter) ([]entity.Snapshot, error)
}

// BacklogLister lists deferred recalculations.
type BacklogLister interface {
	List(ctx context.Context, limit int) ([]snapshot.BacklogEntry, error)
}

// RunHistory lists journaled cascade runs of one item.
type RunHistory interface {
	History(ctx context.Context, key entity.ItemKey, limit int) ([]snapshot.Run, error)
}

// StockDeps wires the stock handler.
type StockDeps struct {
	Ledger    *ledger.Service
	Checker   *snapshot.AvailabilityChecker
	Snapshots SnapshotReader
	Cascader  snapshot.Cascader
	Trigger   ledger.Trigger
	Backlog   BacklogLister
	Pending   PendingCounter
	History   RunHistory
}

// StockHandler handles stock counts, availability and recalculation.
type StockHandler struct {
	*BaseHandler
	deps StockDeps
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(base *BaseHandler, deps StockDeps) *StockHandler {
	return &StockHandler{
		BaseHandler: base,
		deps:        deps,
	}
}

// RecordCount handles POST /stock/counts
func (h *StockHandler) RecordCount(c *gin.Context) {
	var req dto.StockCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	count, err := req.ToStockCount()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.deps.Ledger.RecordStockCount(c.Request.Context(), count)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromStockCountResult(result))
}

// Availability handles GET /stock/availability
func (h *StockHandler) Availability(c *gin.Context) {
	var req dto.AvailabilityRequest
	if !h.BindQuery(c, &req) {
		return
	}

	qty, err := dto.ParseQuantity("qty", req.Qty)
	if err != nil {
		h.Error(c, err)
		return
	}
	date, err := dto.ParseDate("date", req.Date)
	if err != nil {
		h.Error(c, err)
		return
	}

	key := entity.NewItemKey(req.CompanyCode, req.ItemCode)
	res, err := h.deps.Checker.Check(c.Request.Context(), key, req.ItemType, qty, date)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromAvailability(res))
}

// ListSnapshots handles GET /stock/snapshots
func (h *StockHandler) ListSnapshots(c *gin.Context) {
	var req dto.SnapshotListRequest
	if !h.BindQuery(c, &req) {
		return
	}

	from, err := dto.ParseDate("fromDate", req.FromDate)
	if err != nil {
		h.Error(c, err)
		return
	}
	to, err := dto.ParseDate("toDate", req.ToDate)
	if err != nil {
		h.Error(c, err)
		return
	}
	if to.Before(from) {
		h.Error(c, apperror.NewValidation("toDate must not be before fromDate"))
		return
	}

	rows, err := h.deps.Snapshots.ListRange(c.Request.Context(), snapshot.RangeFilter{
		CompanyCode: req.CompanyCode,
		ItemCodes:   req.ItemCodes,
		ItemType:    req.ItemType,
		From:        from,
		To:          to,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse[dto.SnapshotResponse]{
		Items:      dto.FromSnapshots(rows),
		TotalCount: len(rows),
	})
}

// Recalculate handles POST /stock/recalculate
// The cascade runs synchronously. When it stops early the remainder is
// handed to the background dispatcher and the resume date is reported.
func (h *StockHandler) Recalculate(c *gin.Context) {
	var req dto.RecalculateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	from, err := dto.ParseDate("fromDate", req.FromDate)
	if err != nil {
		h.Error(c, err)
		return
	}
	key := entity.NewItemKey(req.CompanyCode, req.ItemCode)
	if key.IsZero() {
		h.Error(c, apperror.NewValidation("companyCode and itemCode are required"))
		return
	}

	result, err := h.deps.Cascader.RecalculateFrom(c.Request.Context(), key, types.Day(from))
	if err != nil {
		h.Error(c, h.cascadeError(err))
		return
	}

	h.OK(c, dto.FromCascadeResult(result))
}

func (h *StockHandler) cascadeError(err error) error {
	ce, ok := snapshot.AsCascadeError(err)
	if !ok {
		return err
	}

	chainLimit := errors.Is(err, snapshot.ErrChainLimit)
	if h.deps.Trigger != nil && (chainLimit || apperror.IsTransient(err)) {
		h.deps.Trigger.Trigger(ce.Key, ce.ResumeFrom)
	}

	if chainLimit {
		return apperror.NewCascadeIncomplete(ce.Key.CompanyCode, ce.Key.ItemCode, err)
	}
	if apperror.IsAppError(err) {
		return err
	}
	return apperror.NewInternal(err)
}

// RecalcStatus handles GET /stock/recalculations
func (h *StockHandler) RecalcStatus(c *gin.Context) {
	resp := dto.RecalcStatusResponse{Backlog: []dto.BacklogEntryResponse{}}
	if h.deps.Pending != nil {
		resp.PendingKeys = h.deps.Pending.Pending()
	}

	if h.deps.Backlog != nil {
		limit, ok := h.QueryLimit(c, "limit", 100)
		if !ok {
			return
		}
		entries, err := h.deps.Backlog.List(c.Request.Context(), limit)
		if err != nil {
			h.Error(c, err)
			return
		}
		resp.Backlog = dto.FromBacklogEntries(entries)
	}

	h.OK(c, resp)
}

// RunHistory handles GET /stock/recalculations/history
func (h *StockHandler) RunHistory(c *gin.Context) {
	var req dto.RunHistoryRequest
	if !h.BindQuery(c, &req) {
		return
	}
	limit, ok := h.QueryLimit(c, "limit", 20)
	if !ok {
		return
	}

	runs := []snapshot.Run{}
	if h.deps.History != nil {
		var err error
		runs, err = h.deps.History.History(c.Request.Context(), entity.NewItemKey(req.CompanyCode, req.ItemCode), limit)
		if err != nil {
			h.Error(c, err)
			return
		}
	}

	h.OK(c, dto.ListResponse[dto.RunResponse]{
		Items:      dto.FromRuns(runs),
		TotalCount: len(runs),
		Limit:      limit,
	})
}
