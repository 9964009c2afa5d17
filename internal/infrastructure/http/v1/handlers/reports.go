package handlers

import (
	"github.com/gin-gonic/gin"

	"bondstock/internal/domain/reports"
	"bondstock/internal/infrastructure/http/v1/dto"
)

// ReportsHandler handles HTTP requests for reports.
type ReportsHandler struct {
	*BaseHandler
	service *reports.Service
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(base *BaseHandler, service *reports.Service) *ReportsHandler {
	return &ReportsHandler{
		BaseHandler: base,
		service:     service,
	}
}

// GetStockPosition handles GET /reports/position
func (h *ReportsHandler) GetStockPosition(c *gin.Context) {
	var req dto.StockPositionRequest
	if !h.BindQuery(c, &req) {
		return
	}

	asOf, err := dto.ParseOptionalDate("asOfDate", req.AsOfDate)
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := reports.StockPositionFilter{
		CompanyCode: req.CompanyCode,
		AsOfDate:    asOf,
		ItemType:    req.ItemType,
		ItemCodes:   req.ItemCodes,
		ExcludeZero: req.ExcludeZero == nil || *req.ExcludeZero,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}

	report, err := h.service.GetStockPosition(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromStockPositionReport(report))
}

// GetMutation handles GET /reports/mutation
func (h *ReportsHandler) GetMutation(c *gin.Context) {
	var req dto.MutationReportRequest
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

	filter := reports.MutationFilter{
		CompanyCode: req.CompanyCode,
		FromDate:    from,
		ToDate:      to,
		ItemType:    req.ItemType,
		ItemCodes:   req.ItemCodes,
		IncludeZero: req.IncludeZero,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}

	report, err := h.service.GetMutation(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromMutationReport(report))
}
