package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"bondstock/internal/core/apperror"
)

const idempotencyTable = "inv_idempotency_keys"

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// stalePending is how long a pending key may sit before it is reclaimed.
const stalePending = time.Minute

// IdempotencyRecord stores the result of an idempotent ledger request.
type IdempotencyRecord struct {
	Key         string            `db:"idempotency_key"`
	ClientID    string            `db:"client_id"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"`
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

var idempotencyColumns = ExtractDBColumns[IdempotencyRecord]()

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore guards ledger postings against client retries.
type IdempotencyStore struct {
	txm     *TxManager
	builder squirrel.StatementBuilderType
	ttl     time.Duration
}

// NewIdempotencyStore creates a new idempotency store. ttl <= 0 uses 24h.
func NewIdempotencyStore(txm *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		ttl:     ttl,
	}
}

func (s *IdempotencyStore) acquireQuery(key, clientID, operation, requestHash string, now time.Time) squirrel.InsertBuilder {
	return s.builder.Insert(idempotencyTable).
		Columns("idempotency_key", "client_id", "operation", "status", "request_hash",
			"created_at", "updated_at", "expires_at").
		Values(key, clientID, operation, IdempotencyStatusPending, requestHash,
			now, now, now.Add(s.ttl)).
		Suffix(`ON CONFLICT (idempotency_key) DO UPDATE SET
			expires_at = GREATEST(`+idempotencyTable+`.expires_at, EXCLUDED.expires_at)
			RETURNING ` + joinColumns(idempotencyColumns))
}

// AcquireKey attempts to acquire an idempotency key.
// Returns:
//   - (nil, nil) if the key was acquired
//   - (replay, nil) if the operation already finished
//   - (nil, error) if the key is in use or reused for another request
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, clientID, operation, requestHash string) (*IdempotencyReplay, error) {
	// timestamptz keeps microseconds; the equality check below relies on it
	now := time.Now().UTC().Truncate(time.Microsecond)

	sql, args, err := s.acquireQuery(key, clientID, operation, requestHash, now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build acquire: %w", err)
	}

	var record IdempotencyRecord
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &record, sql, args...); err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}

	if record.CreatedAt.Equal(now) {
		return nil, nil
	}

	if record.ClientID != clientID || record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil

	case IdempotencyStatusPending:
		if now.Sub(record.UpdatedAt) > stalePending {
			return nil, s.touch(ctx, key, now)
		}
		return nil, apperror.NewIdempotencyConflict(key)
	}

	return nil, nil
}

// touch reclaims a stale pending key.
func (s *IdempotencyStore) touch(ctx context.Context, key string, now time.Time) error {
	sql, args, err := s.builder.Update(idempotencyTable).
		Set("updated_at", now).
		Where(squirrel.Eq{"idempotency_key": key, "status": IdempotencyStatusPending}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reclaim: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("reclaim stale key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status IdempotencyStatus, statusCode int, contentType string, body []byte) error {
	sql, args, err := s.builder.Update(idempotencyTable).
		SetMap(map[string]any{
			"status":                status,
			"response":              body,
			"response_status":       statusCode,
			"response_content_type": contentType,
			"updated_at":            time.Now().UTC(),
		}).
		Where(squirrel.Eq{"idempotency_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return nil
}

// CompleteKey stores the successful response of key.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return s.finish(ctx, key, IdempotencyStatusSuccess, statusCode, contentType, body)
}

// FailKey stores the error response of key so that retries replay it.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		body, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	return s.finish(ctx, key, IdempotencyStatusFailed, statusCode, contentType, body)
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}

// CleanupExpired removes expired keys.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	sql, args, err := s.builder.Delete(idempotencyTable).
		Where(squirrel.Lt{"expires_at": time.Now().UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
