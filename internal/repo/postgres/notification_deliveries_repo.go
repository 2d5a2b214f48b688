package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/impacthub/internal/domain/delivery"
	"github.com/geocoder89/impacthub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationDeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewNotificationDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *NotificationDeliveriesRepo {
	return &NotificationDeliveriesRepo{pool: pool, prom: prom}
}

// TryStart claims the right to send (kind, subjectID). It returns
// delivery.ErrAlreadySent or delivery.ErrInProgress when someone else owns it.
// A previously failed delivery is reclaimed for retry.
func (r *NotificationDeliveriesRepo) TryStart(ctx context.Context, kind, subjectID, jobID, recipient string) error {
	return r.prom.ObserveDB("notification_deliveries.try_start", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO notification_deliveries (kind, subject_id, job_id, recipient, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
		`, kind, subjectID, jobID, recipient)
		if err == nil {
			return nil
		}
		if !IsUniqueViolation(err) {
			return err
		}

		// only one worker can flip failed -> sending
		tag, uErr := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'sending',
			    job_id = $3,
			    recipient = $4,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE kind = $1 AND subject_id = $2 AND status = 'failed'
		`, kind, subjectID, jobID, recipient)
		if uErr != nil {
			return uErr
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var status string
		var sentAt *time.Time

		qErr := r.pool.QueryRow(ctx, `
			SELECT status, sent_at
			FROM notification_deliveries
			WHERE kind = $1 AND subject_id = $2
		`, kind, subjectID).Scan(&status, &sentAt)
		if qErr != nil {
			if errors.Is(qErr, pgx.ErrNoRows) {
				// row vanished between statements; caller retries
				return delivery.ErrInProgress
			}
			return qErr
		}

		if sentAt != nil || status == "sent" {
			return delivery.ErrAlreadySent
		}
		return delivery.ErrInProgress
	})
}

func (r *NotificationDeliveriesRepo) MarkSent(ctx context.Context, kind, subjectID string, providerMessageID *string) error {
	return r.prom.ObserveDB("notification_deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'sent',
			    sent_at = NOW(),
			    provider_message_id = $3,
			    last_error = NULL,
			    updated_at = NOW()
			WHERE kind = $1 AND subject_id = $2
		`, kind, subjectID, providerMessageID)
		return err
	})
}

func (r *NotificationDeliveriesRepo) MarkFailed(ctx context.Context, kind, subjectID, errMsg string) error {
	return r.prom.ObserveDB("notification_deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE notification_deliveries
			SET status = 'failed',
			    last_error = $3,
			    updated_at = NOW()
			WHERE kind = $1 AND subject_id = $2
		`, kind, subjectID, errMsg)
		return err
	})
}
