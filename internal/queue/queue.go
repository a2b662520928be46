// Package queue implements the persistent offline queue (C5): durable,
// crash-safe storage of signed transactions awaiting broadcast, with
// exponential-backoff retry scheduling.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/boonlink/promptpay-bridge/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("queue: not found")

// MaxRetries bounds the number of broadcast/settle attempts before the
// order is marked FAILED and the queue row is removed.
const MaxRetries = 5

// BackoffDelay computes min(5000 * 2^(retryCount-1), 300000) ms, applied
// after incrementing retryCount. Delays are non-decreasing in retryCount up
// to the cap.
func BackoffDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	const base = 5000
	const capMs = 300000
	ms := base << (retryCount - 1)
	if ms > capMs || ms <= 0 {
		ms = capMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Store is the pgx-backed queue table. The WAL-equivalent durability
// guarantee comes from Postgres's own write-ahead log: enqueue is a single
// committed INSERT, so a crash between enqueue and broadcast cannot lose a
// signed item.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enqueue persists a new signed-transaction work item.
func (s *Store) Enqueue(ctx context.Context, orderID, signedTxBlob string) (*models.OfflineQueueItem, error) {
	item := &models.OfflineQueueItem{
		ID:           uuid.NewString(),
		OrderID:      orderID,
		SignedTxBlob: signedTxBlob,
		RetryCount:   0,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue (id, order_id, signed_tx, retry_count, last_retry, next_retry, created_at)
		VALUES ($1,$2,$3,$4,NULL,NULL,$5)
	`, item.ID, item.OrderID, item.SignedTxBlob, item.RetryCount, item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Dequeue removes a work item; it is the only terminal operation on a row.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue WHERE id=$1`, id)
	return err
}

// UpdateRetry stores the caller's already-incremented retryCount and stamps
// last/next retry after a failed attempt.
func (s *Store) UpdateRetry(ctx context.Context, id string, retryCount int, lastRetry, nextRetry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue SET retry_count=$2, last_retry=$3, next_retry=$4 WHERE id=$1
	`, id, retryCount, lastRetry, nextRetry)
	return err
}

// GetReadyItems returns every row eligible for processing right now,
// ordered by created_at ascending: next_retry IS NULL OR next_retry <= now.
func (s *Store) GetReadyItems(ctx context.Context) ([]*models.OfflineQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, signed_tx, retry_count, last_retry, next_retry, created_at
		FROM queue
		WHERE next_retry IS NULL OR next_retry <= now()
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetAll returns every queue row regardless of readiness, for diagnostics.
func (s *Store) GetAll(ctx context.Context) ([]*models.OfflineQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, signed_tx, retry_count, last_retry, next_retry, created_at
		FROM queue ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetStats aggregates queue health. "pending" counts rows not yet attempted
// (retry_count = 0); "processing" counts rows with at least one retry
// recorded but still below MaxRetries. "failed" is resolved by the order
// store (COUNT(orders WHERE status = FAILED)), not derived from this table,
// since failed rows are already removed by the time they'd be counted here.
// "totalAmount" sums the quoted crypto amount of every order still sitting
// in the queue, i.e. the value awaiting broadcast or settlement right now.
func (s *Store) GetStats(ctx context.Context, orderStore *orders.Store) (models.OfflineQueueStats, error) {
	items, err := s.GetAll(ctx)
	if err != nil {
		return models.OfflineQueueStats{}, err
	}

	amounts := make(map[string]decimal.Decimal, len(items))
	for _, item := range items {
		order, err := orderStore.Get(ctx, item.OrderID)
		if err != nil {
			return models.OfflineQueueStats{}, err
		}
		amounts[item.OrderID] = order.Quote.AmountCrypto
	}
	stats := aggregateStats(items, amounts)

	failed, err := orderStore.CountByStatus(ctx, models.StatusFailed)
	if err != nil {
		return models.OfflineQueueStats{}, err
	}
	stats.Failed = failed

	return stats, nil
}

// aggregateStats computes the pending/processing/oldestItem/totalAmount
// fields from queue rows and each row's order's quoted crypto amount,
// looked up by orderID. Split out from GetStats so the aggregation itself
// is testable without a database.
func aggregateStats(items []*models.OfflineQueueItem, amountByOrderID map[string]decimal.Decimal) models.OfflineQueueStats {
	stats := models.OfflineQueueStats{TotalAmount: decimal.Zero}
	for _, item := range items {
		if item.RetryCount == 0 {
			stats.Pending++
		} else {
			stats.Processing++
		}
		if stats.OldestItem == nil || item.CreatedAt.Before(*stats.OldestItem) {
			t := item.CreatedAt
			stats.OldestItem = &t
		}
		stats.TotalAmount = stats.TotalAmount.Add(amountByOrderID[item.OrderID])
	}
	return stats
}

func scanItems(rows pgx.Rows) ([]*models.OfflineQueueItem, error) {
	var out []*models.OfflineQueueItem
	for rows.Next() {
		var item models.OfflineQueueItem
		var lastRetry, nextRetry *time.Time
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.SignedTxBlob, &item.RetryCount,
			&lastRetry, &nextRetry, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		item.LastRetry = lastRetry
		item.NextRetry = nextRetry
		out = append(out, &item)
	}
	return out, rows.Err()
}
