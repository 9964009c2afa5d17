package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// maxBatchStatements bounds one pgx.Batch round-trip.
const maxBatchStatements = 500

var errNoTx = errors.New("batch requires a transaction in context")

type batchQuery struct {
	sql  string
	args []any
}

// Batch queues statements and sends them through the transaction in ctx,
// maxBatchStatements per round-trip.
type Batch struct {
	txm     *TxManager
	queries []batchQuery
}

// NewBatch creates an empty batch.
func NewBatch(txm *TxManager) *Batch {
	return &Batch{txm: txm}
}

// Add builds q and queues it.
func (b *Batch) Add(q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build batch statement %d: %w", len(b.queries), err)
	}
	b.queries = append(b.queries, batchQuery{sql: sql, args: args})
	return nil
}

// Len returns the number of queued statements.
func (b *Batch) Len() int { return len(b.queries) }

// Exec sends every queued statement and returns the total rows affected.
// The first failure names the statement's position in the batch.
func (b *Batch) Exec(ctx context.Context) (int64, error) {
	if len(b.queries) == 0 {
		return 0, nil
	}
	tx := b.txm.GetTx(ctx)
	if tx == nil {
		return 0, errNoTx
	}

	var total int64
	for _, span := range chunks(len(b.queries), maxBatchStatements) {
		n, err := b.send(ctx, tx, span[0], span[1])
		total += n
		if err != nil {
			return total, err
		}
	}
	b.queries = b.queries[:0]
	return total, nil
}

func (b *Batch) send(ctx context.Context, tx pgx.Tx, from, to int) (int64, error) {
	batch := &pgx.Batch{}
	for _, q := range b.queries[from:to] {
		batch.Queue(q.sql, q.args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	var n int64
	for i := from; i < to; i++ {
		tag, err := results.Exec()
		if err != nil {
			return n, fmt.Errorf("batch statement %d: %w", i, err)
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

// CopyRows bulk loads rows into table with the COPY protocol inside the
// transaction in ctx.
func CopyRows(ctx context.Context, txm *TxManager, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx := txm.GetTx(ctx)
	if tx == nil {
		return 0, errNoTx
	}
	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// chunks splits [0, n) into half-open ranges of at most size.
func chunks(n, size int) [][2]int {
	var out [][2]int
	for from := 0; from < n; from += size {
		out = append(out, [2]int{from, min(from+size, n)})
	}
	return out
}
