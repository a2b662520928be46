package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("orders: not found")

// Store is the durable pgx-backed order table. It is the sole source of
// truth; any in-memory index built on top of it is a derived view rebuilt
// on start.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create persists a new order in whatever status it carries (confirm_payment
// creates orders in QUOTED). signature_json is always written as NULL.
func (s *Store) Create(ctx context.Context, o *models.PaymentOrder) error {
	quoteJSON, err := json.Marshal(o.Quote)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, chat_id, status, quote_json, signature_json,
			tx_hash, settlement_id, error, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8,$9,$10,$11)
	`,
		o.ID, o.UserID, o.ChatID, o.Status, quoteJSON,
		o.TxHash, o.SettlementID, o.Error, o.CreatedAt, o.UpdatedAt, o.CompletedAt,
	)
	return err
}

// Get looks up an order by id.
func (s *Store) Get(ctx context.Context, id string) (*models.PaymentOrder, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, chat_id, status, quote_json, signature_json,
			tx_hash, settlement_id, error, created_at, updated_at, completed_at
		FROM orders WHERE id=$1
	`, id)
	return scanOrder(row)
}

// Transition validates the requested status change against the legal
// transition graph, then persists it along with any accompanying field
// updates. updatedAt is always refreshed.
func (s *Store) Transition(ctx context.Context, id string, to models.PaymentStatus, mutate func(o *models.PaymentOrder)) (*models.PaymentOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(order.Status, to) {
		return nil, ErrIllegalTransition
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	if to == models.StatusCompleted {
		now := order.UpdatedAt
		order.CompletedAt = &now
	}
	if mutate != nil {
		mutate(order)
	}

	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Annotate updates non-status fields (e.g. a broadcast txHash) without
// running a transition check. Status is left untouched beyond what mutate
// itself sets; updatedAt is refreshed.
func (s *Store) Annotate(ctx context.Context, id string, mutate func(o *models.PaymentOrder)) (*models.PaymentOrder, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	order.UpdatedAt = time.Now().UTC()
	mutate(order)
	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) persist(ctx context.Context, o *models.PaymentOrder) error {
	quoteJSON, err := json.Marshal(o.Quote)
	if err != nil {
		return err
	}
	var sigJSON []byte
	if o.Signature != nil {
		sigJSON, err = json.Marshal(o.Signature)
		if err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE orders SET
			status=$2, quote_json=$3, signature_json=$4, tx_hash=$5,
			settlement_id=$6, error=$7, updated_at=$8, completed_at=$9
		WHERE id=$1
	`,
		o.ID, o.Status, quoteJSON, sigJSON, o.TxHash,
		o.SettlementID, o.Error, o.UpdatedAt, o.CompletedAt,
	)
	return err
}

// ListByUser returns a user's orders, newest-first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*models.PaymentOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, chat_id, status, quote_json, signature_json,
			tx_hash, settlement_id, error, created_at, updated_at, completed_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListByStatus supports recovery scans on startup and cleanup jobs.
func (s *Store) ListByStatus(ctx context.Context, status models.PaymentStatus) ([]*models.PaymentOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, chat_id, status, quote_json, signature_json,
			tx_hash, settlement_id, error, created_at, updated_at, completed_at
		FROM orders WHERE status=$1 ORDER BY created_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListActive scans every order not in a terminal status, used to rebuild
// the in-memory processing view on start.
func (s *Store) ListActive(ctx context.Context) ([]*models.PaymentOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, chat_id, status, quote_json, signature_json,
			tx_hash, settlement_id, error, created_at, updated_at, completed_at
		FROM orders
		WHERE status NOT IN ('COMPLETED','EXPIRED','CANCELLED','FAILED','TIMEOUT')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// CountByStatus resolves OfflineQueueStats.failed via the order store
// rather than the queue table, since queue rows are removed once an order
// reaches a terminal state.
func (s *Store) CountByStatus(ctx context.Context, status models.PaymentStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status=$1`, status).Scan(&count)
	return count, err
}

// DeleteCompletedBefore removes COMPLETED orders older than the given
// cutoff, for cleanupOldOrders.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM orders WHERE status='COMPLETED' AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.PaymentOrder, error) {
	var o models.PaymentOrder
	var quoteJSON []byte
	var sigJSON []byte
	var txHash, settlementID, errStr *string
	var completedAt *time.Time

	err := row.Scan(
		&o.ID, &o.UserID, &o.ChatID, &o.Status, &quoteJSON, &sigJSON,
		&txHash, &settlementID, &errStr, &o.CreatedAt, &o.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(quoteJSON) > 0 {
		if err := json.Unmarshal(quoteJSON, &o.Quote); err != nil {
			return nil, err
		}
	}
	if len(sigJSON) > 0 {
		var sig models.TransactionSignature
		if err := json.Unmarshal(sigJSON, &sig); err != nil {
			return nil, err
		}
		o.Signature = &sig
	}
	o.TxHash = txHash
	o.SettlementID = settlementID
	o.Error = errStr
	o.CompletedAt = completedAt

	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]*models.PaymentOrder, error) {
	var out []*models.PaymentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
