package ledger

import (
	"context"
	"fmt"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/numerator"
	"bondstock/internal/core/tx"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
	"bondstock/pkg/logger"
)

// StockChecker answers availability before an outgoing posting.
type StockChecker interface {
	Check(ctx context.Context, key entity.ItemKey, itemType string, requested types.Quantity, date time.Time) (snapshot.Availability, error)
}

// Trigger schedules a snapshot recalculation. It must not block.
type Trigger interface {
	Trigger(key entity.ItemKey, date time.Time)
}

// Config holds ledger posting options.
type Config struct {
	// AllowNegativeStock skips the availability check for outgoing entries.
	AllowNegativeStock bool

	// Numerator numbers stock opname entries recorded without a document
	// number, using CountNumbering. Nil leaves them unnumbered.
	Numerator      numerator.Generator
	CountNumbering numerator.Config
}

// Service posts, voids and replaces ledger entries.
// Every successful write schedules a recalculation from the entry date.
type Service struct {
	repo      Repository
	items     snapshot.ItemLookup
	checker   StockChecker
	trigger   Trigger
	txManager tx.Manager
	cfg       Config
}

// NewService creates a new ledger service.
func NewService(
	repo Repository,
	items snapshot.ItemLookup,
	checker StockChecker,
	trigger Trigger,
	txManager tx.Manager,
	cfg Config,
) *Service {
	return &Service{
		repo:      repo,
		items:     items,
		checker:   checker,
		trigger:   trigger,
		txManager: txManager,
		cfg:       cfg,
	}
}

// Post validates and records a new entry.
func (s *Service) Post(ctx context.Context, e *entity.LedgerEntry) error {
	if err := e.Validate(ctx); err != nil {
		return err
	}

	item, err := s.items.GetItem(ctx, e.ItemKey)
	if err != nil {
		return err
	}

	if err := s.ensureAvailable(ctx, item, e, 0); err != nil {
		return err
	}

	if id.IsNil(e.ID) {
		e.ID = id.New()
	}
	e.CreatedAt = time.Now().UTC()
	e.DeletedAt = nil

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, e); err != nil {
			return fmt.Errorf("create ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.trigger.Trigger(e.ItemKey, e.TransactionDate)

	logger.Info(ctx, "ledger entry posted",
		"id", e.ID,
		"key", e.ItemKey.String(),
		"source", e.Source,
		"date", e.TransactionDate.Format(types.DateLayout),
		"qty", e.Qty.String())

	return nil
}

// Get returns an entry by ID (voided entries included).
func (s *Service) Get(ctx context.Context, entryID id.ID) (*entity.LedgerEntry, error) {
	return s.repo.GetByID(ctx, entryID)
}

// List returns live entries.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]entity.LedgerEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

// Void soft-deletes an entry and recalculates from its date.
func (s *Service) Void(ctx context.Context, entryID id.ID) error {
	e, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if e.IsDeleted() {
		return voidedError(e)
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.SoftDelete(ctx, e.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("void ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.trigger.Trigger(e.ItemKey, e.TransactionDate)

	logger.Info(ctx, "ledger entry voided", "id", e.ID, "key", e.ItemKey.String())
	return nil
}

// Replace voids entryID and posts next in one transaction.
// Recalculation starts from the earlier of the two dates.
func (s *Service) Replace(ctx context.Context, entryID id.ID, next *entity.LedgerEntry) error {
	prev, err := s.repo.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if prev.IsDeleted() {
		return voidedError(prev)
	}

	if err := next.Validate(ctx); err != nil {
		return err
	}

	item, err := s.items.GetItem(ctx, next.ItemKey)
	if err != nil {
		return err
	}

	// the outgoing quantity being replaced is returned to stock first
	var released types.Quantity
	if prev.ItemKey == next.ItemKey &&
		prev.Direction == entity.DirectionOut &&
		!prev.TransactionDate.After(next.TransactionDate) {
		released = prev.Qty
	}
	if err := s.ensureAvailable(ctx, item, next, released); err != nil {
		return err
	}

	next.ID = id.New()
	next.CreatedAt = time.Now().UTC()
	next.DeletedAt = nil

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.SoftDelete(ctx, prev.ID, next.CreatedAt); err != nil {
			return fmt.Errorf("void ledger entry: %w", err)
		}
		if err := s.repo.Create(ctx, next); err != nil {
			return fmt.Errorf("create ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if prev.ItemKey == next.ItemKey {
		s.trigger.Trigger(next.ItemKey, types.MinDay(prev.TransactionDate, next.TransactionDate))
	} else {
		s.trigger.Trigger(prev.ItemKey, prev.TransactionDate)
		s.trigger.Trigger(next.ItemKey, next.TransactionDate)
	}

	logger.Info(ctx, "ledger entry replaced",
		"previous_id", prev.ID,
		"id", next.ID,
		"key", next.ItemKey.String())

	return nil
}

// ensureAvailable rejects an outgoing entry exceeding stock on its date.
func (s *Service) ensureAvailable(ctx context.Context, item *entity.Item, e *entity.LedgerEntry, released types.Quantity) error {
	if e.Direction != entity.DirectionOut || s.cfg.AllowNegativeStock {
		return nil
	}

	requested := types.MaxQuantity(0, e.Qty-released)
	res, err := s.checker.Check(ctx, e.ItemKey, item.ItemType, requested, e.TransactionDate)
	if err != nil {
		return err
	}
	if !res.Available {
		return apperror.NewInsufficientStock(
			e.ItemCode,
			requested.String(),
			res.CurrentStock.String(),
			res.Shortfall.String(),
		).WithDetail("reason", res.Reason)
	}
	return nil
}

func voidedError(e *entity.LedgerEntry) error {
	return apperror.NewBusinessRule(apperror.CodeEntryVoided, "Ledger entry is already voided").
		WithDetail("id", e.ID.String())
}
