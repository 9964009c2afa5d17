package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bondstock/internal/core/apperror"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/tx"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
)

// Service provides report generation operations.
type Service struct {
	snapshots SnapshotReader
	txm       tx.ReadOnlyManager
}

// NewService creates a new reports service. Multi-query reports run inside
// a single read-only transaction of txm.
func NewService(snapshots SnapshotReader, txm tx.ReadOnlyManager) *Service {
	if txm == nil {
		txm = tx.Passthrough{}
	}
	return &Service{snapshots: snapshots, txm: txm}
}

// GetStockPosition reports each item's closing balance of the latest snapshot
// at or before the report date.
func (s *Service) GetStockPosition(ctx context.Context, filter StockPositionFilter) (*StockPositionReport, error) {
	if strings.TrimSpace(filter.CompanyCode) == "" {
		return nil, apperror.NewValidation("company_code is required")
	}
	asOf := types.Day(time.Now())
	if filter.AsOfDate != nil {
		asOf = types.Day(*filter.AsOfDate)
	}
	normalizePage(&filter.Limit, &filter.Offset)

	latest, err := s.snapshots.ListLatestBefore(ctx, snapshot.RangeFilter{
		CompanyCode: filter.CompanyCode,
		ItemCodes:   filter.ItemCodes,
		ItemType:    filter.ItemType,
		From:        asOf.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, fmt.Errorf("get stock position: %w", err)
	}

	items := make([]StockPositionItem, 0, len(latest))
	for _, snap := range latest {
		if filter.ExcludeZero && snap.ClosingBalance.IsZero() {
			continue
		}
		items = append(items, StockPositionItem{
			ItemCode:     snap.ItemCode,
			ItemName:     snap.ItemName,
			ItemType:     snap.ItemType,
			UOM:          snap.UOM,
			Balance:      snap.ClosingBalance,
			SnapshotDate: snap.SnapshotDate,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemCode < items[j].ItemCode })

	return &StockPositionReport{
		CompanyCode: filter.CompanyCode,
		AsOfDate:    asOf,
		Items:       page(items, filter.Limit, filter.Offset),
		TotalItems:  len(items),
	}, nil
}

// GetMutation generates the mutation report: per item, the opening balance
// before FromDate, the movement sums inside the period and the closing
// balance at ToDate.
func (s *Service) GetMutation(ctx context.Context, filter MutationFilter) (*MutationReport, error) {
	if strings.TrimSpace(filter.CompanyCode) == "" {
		return nil, apperror.NewValidation("company_code is required")
	}
	if filter.FromDate.IsZero() || filter.ToDate.IsZero() {
		return nil, apperror.NewValidation("from_date and to_date are required")
	}
	from, to := types.Day(filter.FromDate), types.Day(filter.ToDate)
	if from.After(to) {
		return nil, apperror.NewValidation("from_date must not be after to_date")
	}
	normalizePage(&filter.Limit, &filter.Offset)

	rf := snapshot.RangeFilter{
		CompanyCode: filter.CompanyCode,
		ItemCodes:   filter.ItemCodes,
		ItemType:    filter.ItemType,
		From:        from,
		To:          to,
	}

	var openings, rows []entity.Snapshot
	err := s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		var err error
		if openings, err = s.snapshots.ListLatestBefore(ctx, rf); err != nil {
			return fmt.Errorf("get opening balances: %w", err)
		}
		if rows, err = s.snapshots.ListRange(ctx, rf); err != nil {
			return fmt.Errorf("get period snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	byItem := make(map[string]*MutationItem)
	get := func(snap entity.Snapshot) *MutationItem {
		m, ok := byItem[snap.ItemCode]
		if !ok {
			m = &MutationItem{
				ItemCode: snap.ItemCode,
				ItemName: snap.ItemName,
				ItemType: snap.ItemType,
				UOM:      snap.UOM,
			}
			byItem[snap.ItemCode] = m
		}
		return m
	}

	for _, snap := range openings {
		m := get(snap)
		m.OpeningBalance = snap.ClosingBalance
		m.ClosingBalance = snap.ClosingBalance
	}
	// rows are ordered by item then date, so the last row per item closes the period
	for _, snap := range rows {
		m := get(snap)
		m.Incoming += snap.IncomingQty
		m.Outgoing += snap.OutgoingQty
		m.Adjustment += snap.AdjustmentQty
		m.ClosingBalance = snap.ClosingBalance
	}

	report := &MutationReport{
		CompanyCode: filter.CompanyCode,
		FromDate:    from,
		ToDate:      to,
	}

	items := make([]MutationItem, 0, len(byItem))
	for _, m := range byItem {
		if !filter.IncludeZero && m.isEmpty() {
			continue
		}
		items = append(items, *m)
		report.TotalOpening += m.OpeningBalance
		report.TotalIncoming += m.Incoming
		report.TotalOutgoing += m.Outgoing
		report.TotalAdjustment += m.Adjustment
		report.TotalClosing += m.ClosingBalance
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemCode < items[j].ItemCode })

	report.TotalItems = len(items)
	report.Items = page(items, filter.Limit, filter.Offset)
	return report, nil
}

func (m *MutationItem) isEmpty() bool {
	return m.OpeningBalance.IsZero() && m.Incoming.IsZero() && m.Outgoing.IsZero() &&
		m.Adjustment.IsZero() && m.ClosingBalance.IsZero()
}

func normalizePage(limit, offset *int) {
	if *limit <= 0 {
		*limit = 100
	}
	if *limit > 1000 {
		*limit = 1000
	}
	if *offset < 0 {
		*offset = 0
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
