package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
)

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

const deliveryColumns = `
	id, webhook_id, submission_id, event_type, payload, status, attempt,
	last_status, last_error, next_retry_at, delivered_at, created_at, updated_at
`

func (r *deliveryRepository) Create(ctx context.Context, delivery *model.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("delivery cannot be nil")
	}
	if delivery.Payload == nil {
		return fmt.Errorf("delivery payload cannot be nil")
	}

	query := `
		INSERT INTO deliveries (
			id, webhook_id, submission_id, event_type, payload, status,
			attempt, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	now := time.Now()
	delivery.CreatedAt = now
	delivery.UpdatedAt = now
	delivery.Status = model.DeliveryStatusPending

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID, delivery.WebhookID, delivery.SubmissionID,
		delivery.EventType, []byte(delivery.Payload), delivery.Status,
		delivery.Attempt, delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`

	var delivery model.Delivery
	if err := r.db.GetContext(ctx, &delivery, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("delivery", err)
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &delivery, nil
}

// Claim is the single-flight guard: only the worker whose conditional update
// lands transitions the row to sending, everyone else gets ErrNotClaimable.
func (r *deliveryRepository) Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `
		UPDATE deliveries
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING ` + deliveryColumns

	var delivery model.Delivery
	err := r.db.QueryRowxContext(ctx, query,
		id, model.DeliveryStatusSending,
		model.DeliveryStatusPending, model.DeliveryStatusRetrying,
	).StructScan(&delivery)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotClaimable
		}
		return nil, fmt.Errorf("failed to claim delivery: %w", err)
	}
	return &delivery, nil
}

func (r *deliveryRepository) MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int, deliveredAt time.Time) error {
	query := `
		UPDATE deliveries
		SET status = $2, attempt = attempt + 1, last_status = $3, last_error = NULL,
			next_retry_at = NULL, delivered_at = $4, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, model.DeliveryStatusSuccess, statusCode, deliveredAt); err != nil {
		return fmt.Errorf("failed to mark delivery success: %w", err)
	}
	return nil
}

func (r *deliveryRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string, nextRetryAt time.Time) error {
	query := `
		UPDATE deliveries
		SET status = $2, attempt = $3, last_status = $4, last_error = $5,
			next_retry_at = $6, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query,
		id, model.DeliveryStatusRetrying, attempt, statusCode, lastError, nextRetryAt,
	); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

func (r *deliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string) error {
	query := `
		UPDATE deliveries
		SET status = $2, attempt = $3, last_status = $4, last_error = $5,
			next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query,
		id, model.DeliveryStatusFailed, attempt, statusCode, lastError,
	); err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return nil
}

// ClaimDueRetries locks due rows with SKIP LOCKED so concurrent sweepers
// partition the work instead of racing on it, then flips them to pending.
func (r *deliveryRepository) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		selectQuery := `
			SELECT id
			FROM deliveries
			WHERE status = $1 AND next_retry_at <= $2
			ORDER BY next_retry_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`
		if err := tx.SelectContext(ctx, &ids, selectQuery, model.DeliveryStatusRetrying, now, limit); err != nil {
			return fmt.Errorf("failed to select due retries: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		updateQuery := `
			UPDATE deliveries
			SET status = $1, next_retry_at = NULL, updated_at = NOW()
			WHERE id = ANY($2)
		`
		if _, err := tx.ExecContext(ctx, updateQuery, model.DeliveryStatusPending, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to requeue due retries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReclaimStale recovers rows stuck in sending after a worker died
// mid-attempt or the post-send status update never landed. The cutoff must
// comfortably exceed the send timeout so in-flight attempts are never stolen.
func (r *deliveryRepository) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		selectQuery := `
			SELECT id
			FROM deliveries
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`
		if err := tx.SelectContext(ctx, &ids, selectQuery, model.DeliveryStatusSending, cutoff, limit); err != nil {
			return fmt.Errorf("failed to select stale deliveries: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		updateQuery := `
			UPDATE deliveries
			SET status = $1, updated_at = NOW()
			WHERE id = ANY($2)
		`
		if _, err := tx.ExecContext(ctx, updateQuery, model.DeliveryStatusPending, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to reclaim stale deliveries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *deliveryRepository) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]*model.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var deliveries []*model.Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, webhookID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM deliveries
		WHERE status IN ($1, $2)
		AND created_at < $3
	`

	result, err := r.db.ExecContext(ctx, query, model.DeliveryStatusSuccess, model.DeliveryStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal deliveries: %w", err)
	}
	return result.RowsAffected()
}
