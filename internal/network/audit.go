package network

import (
	"context"
	"time"

	"github.com/boonlink/promptpay-bridge/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog persists every ONLINE/WEAK/OFFLINE transition the detector
// emits, grounded on the teacher's sync_state key-value table pattern but
// append-only rather than upserted, since the point here is a history, not
// a single cursor.
type AuditLog struct {
	pool *pgxpool.Pool
}

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (a *AuditLog) Record(ctx context.Context, old, new models.NetworkStatus) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO network_status_log (old_status, new_status, changed_at)
		VALUES ($1, $2, $3)
	`, old, new, time.Now().UTC())
	return err
}

// Attach wires the audit log as a detector subscriber. Persistence failures
// are handed to the caller-supplied onError callback rather than returned,
// since a failed audit write must never block the status notification
// itself.
func (a *AuditLog) Attach(d *Detector, onError func(error)) Subscription {
	return d.Subscribe(func(old, new models.NetworkStatus) {
		if err := a.Record(context.Background(), old, new); err != nil && onError != nil {
			onError(err)
		}
	})
}
