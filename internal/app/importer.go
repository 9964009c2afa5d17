package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bondstock/internal/core/apperror"
	appctx "bondstock/internal/core/context"
	"bondstock/internal/core/entity"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
	"bondstock/pkg/logger"
)

var (
	itemColumns   = []string{"company_code", "item_code", "item_type", "item_name", "uom"}
	ledgerColumns = []string{"company_code", "item_code", "transaction_date", "source", "qty"}
)

type itemBatcher interface {
	UpsertBatch(ctx context.Context, list []entity.Item) error
}

type ledgerBatcher interface {
	CreateBatch(ctx context.Context, entries []*entity.LedgerEntry) (int64, error)
}

// Importer loads item master data and historical ledger entries from CSV
// files with a header row. Imported entries skip the availability check.
type Importer struct {
	stores *Stores
	engine *Engine
}

// NewImporter creates an importer.
func NewImporter(stores *Stores, engine *Engine) *Importer {
	return &Importer{stores: stores, engine: engine}
}

// ImportFiles imports the items file, then the ledger file. Empty paths are skipped.
func (i *Importer) ImportFiles(ctx context.Context, itemsPath, ledgerPath string) error {
	ctx = appctx.StartJob(ctx, appctx.OriginImport)
	if itemsPath != "" {
		if err := withFile(itemsPath, func(r io.Reader) error {
			n, err := i.Items(ctx, r)
			logger.Info(ctx, "items imported", "file", itemsPath, "count", n)
			return err
		}); err != nil {
			return err
		}
	}
	if ledgerPath != "" {
		if err := withFile(ledgerPath, func(r io.Reader) error {
			n, err := i.Ledger(ctx, r)
			logger.Info(ctx, "ledger entries imported", "file", ledgerPath, "count", n)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return fn(f)
}

// Items upserts every row of r.
func (i *Importer) Items(ctx context.Context, r io.Reader) (int, error) {
	rows, err := readCSV(r, itemColumns)
	if err != nil {
		return 0, err
	}

	list := make([]entity.Item, 0, len(rows))
	for n, row := range rows {
		item := entity.Item{
			ItemKey:  entity.NewItemKey(row["company_code"], row["item_code"]),
			ItemType: strings.TrimSpace(row["item_type"]),
			ItemName: strings.TrimSpace(row["item_name"]),
			UOM:      strings.TrimSpace(row["uom"]),
		}
		if item.IsZero() {
			return 0, rowError(n, apperror.NewValidation("company_code and item_code are required"))
		}
		list = append(list, item)
	}

	err = i.stores.Tx.RunInTransaction(ctx, func(ctx context.Context) error {
		if batcher, ok := i.stores.Items.(itemBatcher); ok {
			return batcher.UpsertBatch(ctx, list)
		}
		for _, item := range list {
			if err := i.stores.Items.Upsert(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}
	return len(list), nil
}

// Ledger inserts every row of r and recalculates each touched item from its
// earliest imported date. Rows are validated before anything is written.
func (i *Importer) Ledger(ctx context.Context, r io.Reader) (int, error) {
	rows, err := readCSV(r, ledgerColumns)
	if err != nil {
		return 0, err
	}

	entries := make([]*entity.LedgerEntry, 0, len(rows))
	earliest := make(map[entity.ItemKey]time.Time)
	for n, row := range rows {
		e, err := ledgerEntryFromRow(ctx, row)
		if err != nil {
			return 0, rowError(n, err)
		}
		if _, err := i.stores.Items.GetItem(ctx, e.ItemKey); err != nil {
			return 0, rowError(n, err)
		}

		entries = append(entries, e)
		if d, ok := earliest[e.ItemKey]; !ok || e.TransactionDate.Before(d) {
			earliest[e.ItemKey] = e.TransactionDate
		}
	}

	err = i.stores.Tx.RunInTransaction(ctx, func(ctx context.Context) error {
		if batcher, ok := i.stores.Ledger.(ledgerBatcher); ok {
			_, err := batcher.CreateBatch(ctx, entries)
			return err
		}
		for _, e := range entries {
			if err := i.stores.Ledger.Create(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert ledger entries: %w", err)
	}

	for key, from := range earliest {
		i.recalculate(ctx, key, from)
	}
	return len(entries), nil
}

// recalculate runs the cascade inline; failures are left to the backlog.
func (i *Importer) recalculate(ctx context.Context, key entity.ItemKey, from time.Time) {
	_, err := i.engine.Recalculator.RecalculateFrom(ctx, key, from)
	if err == nil {
		return
	}

	resume := from
	if ce, ok := snapshot.AsCascadeError(err); ok {
		resume = ce.ResumeFrom
	}
	logger.Warn(ctx, "import recalculation deferred",
		"key", key.String(), "resume_from", resume.Format(types.DateLayout), "error", err)

	if bErr := i.stores.Backlog.Record(ctx, key, resume, err); bErr != nil {
		logger.Error(ctx, "failed to record recalculation backlog", "key", key.String(), "error", bErr)
	}
}

func ledgerEntryFromRow(ctx context.Context, row map[string]string) (*entity.LedgerEntry, error) {
	date, err := types.ParseDay(strings.TrimSpace(row["transaction_date"]))
	if err != nil {
		return nil, apperror.NewValidation("invalid transaction_date").WithDetail("value", row["transaction_date"])
	}
	qty, err := types.ParseQuantity(strings.TrimSpace(row["qty"]))
	if err != nil {
		return nil, apperror.NewValidation("invalid qty").WithDetail("value", row["qty"])
	}

	e := entity.NewLedgerEntry(
		entity.NewItemKey(row["company_code"], row["item_code"]),
		date,
		entity.Source(strings.TrimSpace(row["source"])),
		qty,
	)
	e.DocumentNo = strings.TrimSpace(row["document_no"])
	e.Remarks = strings.TrimSpace(row["remarks"])

	if err := e.Validate(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// readCSV returns rows keyed by lower-cased header name.
func readCSV(r io.Reader, required []string) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperror.NewValidation("csv file is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	for _, col := range required {
		if !present[col] {
			return nil, apperror.NewValidation("csv header is missing a column").WithDetail("column", col)
		}
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				row[h] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowError reports the 1-based data row, not counting the header.
func rowError(n int, err error) error {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.WithDetail("row", n+1)
	}
	return fmt.Errorf("row %d: %w", n+1, err)
}
