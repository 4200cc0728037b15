package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
)

type webhookRepository struct {
	BaseRepository
}

func NewWebhookRepository(base BaseRepository) repository.WebhookRepository {
	return &webhookRepository{base}
}

const webhookColumns = `
	id, organization_id, url, secret, active, event_types, headers,
	total_deliveries, successful_deliveries, failed_deliveries,
	created_at, updated_at
`

func (r *webhookRepository) Create(ctx context.Context, webhook *model.Webhook) error {
	query := `
		INSERT INTO webhooks (
			id, organization_id, url, secret, active, event_types, headers,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if webhook.ID == uuid.Nil {
		webhook.ID = uuid.New()
	}
	now := time.Now()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		webhook.ID, webhook.OrganizationID, webhook.URL, webhook.Secret,
		webhook.Active, webhook.EventTypes, webhook.Headers,
		webhook.CreatedAt, webhook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (r *webhookRepository) Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`

	var webhook model.Webhook
	if err := r.db.GetContext(ctx, &webhook, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("webhook", err)
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return &webhook, nil
}

func (r *webhookRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*model.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	var webhooks []*model.Webhook
	if err := r.db.SelectContext(ctx, &webhooks, query, orgID); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *webhookRepository) ListActiveForEvent(ctx context.Context, orgID uuid.UUID, eventType string) ([]*model.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE organization_id = $1
		AND active
		AND $2 = ANY(event_types)
		ORDER BY created_at ASC
	`

	var webhooks []*model.Webhook
	if err := r.db.SelectContext(ctx, &webhooks, query, orgID, eventType); err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	return webhooks, nil
}

func (r *webhookRepository) SetActive(ctx context.Context, orgID, id uuid.UUID, active bool) error {
	query := `UPDATE webhooks SET active = $3, updated_at = NOW() WHERE id = $1 AND organization_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, orgID, active)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("webhook", nil)
	}
	return nil
}

// IncrementCounters is a single row-level increment so concurrent workers
// never lose updates.
func (r *webhookRepository) IncrementCounters(ctx context.Context, id uuid.UUID, success bool) error {
	query := `
		UPDATE webhooks
		SET total_deliveries = total_deliveries + 1,
			successful_deliveries = successful_deliveries + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_deliveries = failed_deliveries + CASE WHEN $2 THEN 0 ELSE 1 END,
			updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, success); err != nil {
		return fmt.Errorf("failed to increment webhook counters: %w", err)
	}
	return nil
}
