package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"bondstock/internal/core/entity"
	"bondstock/internal/core/id"
	"bondstock/internal/core/types"
	"bondstock/internal/domain/snapshot"
)

const journalTable = "inv_recalc_journal"

// CompressionAlgo specifies how the recomputed rows are stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// JournalEntry is one row of inv_recalc_journal.
type JournalEntry struct {
	ID          id.ID      `db:"id" json:"id"`
	CompanyCode string     `db:"company_code" json:"companyCode"`
	ItemCode    string     `db:"item_code" json:"itemCode"`
	StartDate   time.Time  `db:"start_date" json:"startDate"`
	ResumeFrom  *time.Time `db:"resume_from" json:"resumeFrom,omitempty"`
	Affected    int        `db:"affected" json:"affected"`
	DurationMs  int64      `db:"duration_ms" json:"durationMs"`
	Status      string     `db:"status" json:"status"`
	Error       string     `db:"error" json:"error,omitempty"`

	Rows           json.RawMessage `db:"rows" json:"rows,omitempty"`
	RowsCompressed []byte          `db:"rows_compressed" json:"-"`
	Compression    CompressionAlgo `db:"compression_algo" json:"-"`

	StartedAt time.Time `db:"started_at" json:"startedAt"`
}

var journalColumns = ExtractDBColumns[JournalEntry]()

// Journal implements snapshot.Journal on inv_recalc_journal.
// Row payloads larger than the threshold are zstd-compressed.
type Journal struct {
	txm               *TxManager
	builder           squirrel.StatementBuilderType
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewJournal creates a journal. threshold <= 0 uses 8KB.
func NewJournal(txm *TxManager, threshold int) (*Journal, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if threshold <= 0 {
		threshold = 8 * 1024
	}

	return &Journal{
		txm:               txm,
		builder:           squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: threshold,
	}, nil
}

var _ snapshot.Journal = (*Journal)(nil)

// entryFromRun converts a run and compresses large payloads.
func (j *Journal) entryFromRun(run snapshot.Run) (JournalEntry, error) {
	payload, err := json.Marshal(run.Snapshots)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("marshal snapshots: %w", err)
	}

	e := JournalEntry{
		ID:          id.New(),
		CompanyCode: run.Key.CompanyCode,
		ItemCode:    run.Key.ItemCode,
		StartDate:   types.Day(run.Start),
		ResumeFrom:  run.ResumeFrom,
		Affected:    run.Affected,
		DurationMs:  run.Duration.Milliseconds(),
		Status:      string(run.Status),
		Error:       run.Error,
		Rows:        payload,
		Compression: CompressionNone,
		StartedAt:   run.StartedAt,
	}

	if len(payload) > j.compressThreshold {
		e.RowsCompressed = j.encoder.EncodeAll(payload, nil)
		e.Rows = nil
		e.Compression = CompressionZstd
	}
	return e, nil
}

func (j *Journal) decompress(e *JournalEntry) error {
	if e.Compression != CompressionZstd || len(e.RowsCompressed) == 0 {
		return nil
	}
	rows, err := j.decoder.DecodeAll(e.RowsCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress rows: %w", err)
	}
	e.Rows = rows
	e.RowsCompressed = nil
	return nil
}

// Record stores a finished run.
func (j *Journal) Record(ctx context.Context, run snapshot.Run) error {
	e, err := j.entryFromRun(run)
	if err != nil {
		return err
	}

	sql, args, err := j.builder.Insert(journalTable).
		SetMap(StructToMap(e)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := j.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// History returns the latest runs of key, newest first.
func (j *Journal) History(ctx context.Context, key entity.ItemKey, limit int) ([]snapshot.Run, error) {
	if limit <= 0 {
		limit = 20
	}

	sql, args, err := j.builder.Select(journalColumns...).
		From(journalTable).
		Where(keyWhere(key)).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []JournalEntry
	if err := pgxscan.Select(ctx, j.txm.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	runs := make([]snapshot.Run, 0, len(entries))
	for i := range entries {
		run, err := j.runFromEntry(&entries[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (j *Journal) runFromEntry(e *JournalEntry) (snapshot.Run, error) {
	if err := j.decompress(e); err != nil {
		return snapshot.Run{}, err
	}

	run := snapshot.Run{
		Key:        entity.NewItemKey(e.CompanyCode, e.ItemCode),
		Start:      e.StartDate,
		ResumeFrom: e.ResumeFrom,
		Affected:   e.Affected,
		StartedAt:  e.StartedAt,
		Duration:   time.Duration(e.DurationMs) * time.Millisecond,
		Status:     snapshot.RunStatus(e.Status),
		Error:      e.Error,
	}
	if len(e.Rows) > 0 {
		if err := json.Unmarshal(e.Rows, &run.Snapshots); err != nil {
			return snapshot.Run{}, fmt.Errorf("decode journal rows %s: %w", e.ID, err)
		}
	}
	return run, nil
}

// Cleanup deletes runs started before cutoff.
func (j *Journal) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	sql, args, err := j.builder.Delete(journalTable).
		Where(squirrel.Lt{"started_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := j.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup journal: %w", err)
	}
	return tag.RowsAffected(), nil
}
