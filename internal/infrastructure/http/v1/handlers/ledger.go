package handlers

import (
	"github.com/gin-gonic/gin"

	"bondstock/internal/domain/ledger"
	"bondstock/internal/infrastructure/http/v1/dto"
)

// LedgerHandler handles HTTP requests for ledger entries.
type LedgerHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, service *ledger.Service) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Post handles POST /ledger/entries
func (h *LedgerHandler) Post(c *gin.Context) {
	var req dto.LedgerEntryRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := req.ToEntity()
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.Post(c.Request.Context(), entry); err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromLedgerEntry(entry))
}

// Get handles GET /ledger/entries/:id
func (h *LedgerHandler) Get(c *gin.Context) {
	entryID, ok := h.ParamID(c)
	if !ok {
		return
	}

	entry, err := h.service.Get(c.Request.Context(), entryID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromLedgerEntry(entry))
}

// List handles GET /ledger/entries
func (h *LedgerHandler) List(c *gin.Context) {
	var req dto.LedgerListRequest
	if !h.BindQuery(c, &req) {
		return
	}

	from, err := dto.ParseOptionalDate("fromDate", req.FromDate)
	if err != nil {
		h.Error(c, err)
		return
	}
	to, err := dto.ParseOptionalDate("toDate", req.ToDate)
	if err != nil {
		h.Error(c, err)
		return
	}

	filter := ledger.ListFilter{
		CompanyCode: req.CompanyCode,
		ItemCode:    req.ItemCode,
		From:        from,
		To:          to,
		Limit:       req.Limit,
		Offset:      req.Offset,
	}

	entries, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.LedgerEntryResponse, len(entries))
	for i := range entries {
		items[i] = dto.FromLedgerEntry(&entries[i])
	}

	h.OK(c, dto.ListResponse[dto.LedgerEntryResponse]{
		Items:      items,
		TotalCount: len(items),
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

// Replace handles PUT /ledger/entries/:id
// The entry is voided and a corrected one is posted under a new ID.
func (h *LedgerHandler) Replace(c *gin.Context) {
	entryID, ok := h.ParamID(c)
	if !ok {
		return
	}

	var req dto.LedgerEntryRequest
	if !h.BindJSON(c, &req) {
		return
	}

	next, err := req.ToEntity()
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.service.Replace(c.Request.Context(), entryID, next); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromLedgerEntry(next))
}

// Void handles DELETE /ledger/entries/:id
func (h *LedgerHandler) Void(c *gin.Context) {
	entryID, ok := h.ParamID(c)
	if !ok {
		return
	}

	if err := h.service.Void(c.Request.Context(), entryID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}
