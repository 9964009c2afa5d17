package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
	"bondstock/pkg/logger"
)

// StockCount is a physical count (stock opname) of one item on one day.
type StockCount struct {
	entity.ItemKey
	CountDate  time.Time
	CountedQty types.Quantity
	DocumentNo string
	Remarks    string
}

var _ entity.Validatable = (*StockCount)(nil)

// Validate implements entity.Validatable.
func (c *StockCount) Validate(_ context.Context) error {
	c.ItemKey = entity.NewItemKey(c.CompanyCode, c.ItemCode)
	if c.IsZero() {
		return apperror.NewValidation("company_code and item_code are required")
	}
	if c.CountDate.IsZero() {
		return apperror.NewValidation("count_date is required")
	}
	if c.CountedQty.IsNegative() {
		return apperror.NewValidation("counted qty must not be negative")
	}
	c.CountDate = types.Day(c.CountDate)
	c.DocumentNo = strings.TrimSpace(c.DocumentNo)
	return nil
}

// StockCountResult compares the count with the book balance.
type StockCountResult struct {
	BookQty    types.Quantity      `json:"bookQty"`
	CountedQty types.Quantity      `json:"countedQty"`
	Variance   types.Quantity      `json:"variance"`
	Entry      *entity.LedgerEntry `json:"entry,omitempty"`
}

// RecordStockCount posts the variance between the count and the book
// balance as a stock_opname adjustment. The book balance is the ledger sum
// through the count date. Nothing is posted when they agree.
func (s *Service) RecordStockCount(ctx context.Context, count *StockCount) (*StockCountResult, error) {
	if err := count.Validate(ctx); err != nil {
		return nil, err
	}

	if _, err := s.items.GetItem(ctx, count.ItemKey); err != nil {
		return nil, err
	}

	book, err := s.repo.SumThrough(ctx, count.ItemKey, count.CountDate)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}

	result := &StockCountResult{
		BookQty:    book,
		CountedQty: count.CountedQty,
		Variance:   count.CountedQty - book,
	}
	if result.Variance.IsZero() {
		return result, nil
	}

	e := entity.NewLedgerEntry(count.ItemKey, count.CountDate, entity.SourceStockOpname, result.Variance)
	e.DocumentNo = count.DocumentNo
	e.Remarks = count.Remarks

	if err := e.Validate(ctx); err != nil {
		return nil, err
	}
	if id.IsNil(e.ID) {
		e.ID = id.New()
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if e.DocumentNo == "" && s.cfg.Numerator != nil {
			no, err := s.cfg.Numerator.GetNextNumber(ctx, s.cfg.CountNumbering, nil, e.TransactionDate)
			if err != nil {
				return fmt.Errorf("number stock count: %w", err)
			}
			e.DocumentNo = no
		}
		if err := s.repo.Create(ctx, e); err != nil {
			return fmt.Errorf("create stock opname entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.trigger.Trigger(e.ItemKey, e.TransactionDate)
	result.Entry = e

	logger.Info(ctx, "stock count recorded",
		"key", count.ItemKey.String(),
		"date", count.CountDate.Format(types.DateLayout),
		"book", book.String(),
		"counted", count.CountedQty.String(),
		"variance", result.Variance.String(),
		"document_no", e.DocumentNo)

	return result, nil
}
