package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Outbox struct{ pool *pgxpool.Pool }

func NewOutbox(pool *pgxpool.Pool) *Outbox { return &Outbox{pool: pool} }

const outboxCols = `id, operation_id, event_type, user_id, payload, status, attempts, last_error,
	locked_until, created_at, delivered_at`

func scanEvent(row pgx.Row) (models.OutboxEvent, error) {
	var ev models.OutboxEvent
	err := row.Scan(&ev.ID, &ev.OperationID, &ev.EventType, &ev.UserID, &ev.Payload, &ev.Status, &ev.Attempts, &ev.LastError,
		&ev.LockedUntil, &ev.CreatedAt, &ev.DeliveredAt)
	return ev, mapErr(err)
}

// Claim leases pending events. SKIP LOCKED lets several dispatchers claim
// disjoint batches concurrently.
func (o *Outbox) Claim(ctx context.Context, max int, lease time.Duration) ([]models.OutboxEvent, error) {
	rows, err := o.pool.Query(ctx,
		`WITH picked AS (
		   SELECT id FROM outbox_events
		    WHERE status = 'pending' AND (locked_until IS NULL OR locked_until < now())
		    ORDER BY created_at
		    LIMIT $1
		    FOR UPDATE SKIP LOCKED
		 )
		 UPDATE outbox_events o
		    SET locked_until = now() + make_interval(secs => $2)
		   FROM picked
		  WHERE o.id = picked.id
		 RETURNING o.id, o.operation_id, o.event_type, o.user_id, o.payload, o.status, o.attempts, o.last_error,
		           o.locked_until, o.created_at, o.delivered_at`,
		max, lease.Seconds())
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEvent)
}

func (o *Outbox) MarkDelivered(ctx context.Context, id string) error {
	tag, err := o.pool.Exec(ctx,
		`UPDATE outbox_events
		    SET status='delivered', delivered_at=now(), locked_until=NULL
		  WHERE id=$1 AND status <> 'delivered'`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		_, err := o.Event(ctx, id)
		return err
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id, reason string, maxAttempts int, retryAfter time.Duration) (bool, error) {
	var status models.OutboxStatus
	err := o.pool.QueryRow(ctx,
		`UPDATE outbox_events
		    SET attempts = attempts + 1,
		        last_error = $2,
		        locked_until = CASE WHEN attempts + 1 >= $3 OR $4::float8 <= 0 THEN NULL
		                            ELSE now() + make_interval(secs => $4::float8) END,
		        status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE status END
		  WHERE id=$1 AND status='pending'
		 RETURNING status`, id, reason, maxAttempts, retryAfter.Seconds()).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		ev, err := o.Event(ctx, id)
		if err != nil {
			return false, err
		}
		return ev.Status == models.OutboxDead, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return status == models.OutboxDead, nil
}

func (o *Outbox) Event(ctx context.Context, id string) (models.OutboxEvent, error) {
	return scanEvent(o.pool.QueryRow(ctx, `SELECT `+outboxCols+` FROM outbox_events WHERE id=$1`, id))
}

var _ repository.Outbox = (*Outbox)(nil)
