package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
)

type deadLetterRepository struct {
	BaseRepository
}

func NewDeadLetterRepository(base BaseRepository) repository.DeadLetterRepository {
	return &deadLetterRepository{base}
}

// Create inserts exactly one entry per delivery; a replayed terminal
// transition is absorbed by the unique constraint on delivery_id.
func (r *deadLetterRepository) Create(ctx context.Context, entry *model.DeadLetterEntry) error {
	query := `
		INSERT INTO dead_letters (id, delivery_id, webhook_id, reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (delivery_id) DO NOTHING
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.DeliveryID, entry.WebhookID,
		entry.Reason, entry.Attempts, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dead letter entry: %w", err)
	}
	return nil
}

// List joins through webhooks so one tenant never sees another's failures.
func (r *deadLetterRepository) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*model.DeadLetterEntry, error) {
	query := `
		SELECT dl.id, dl.delivery_id, dl.webhook_id, dl.reason, dl.attempts, dl.created_at
		FROM dead_letters dl
		JOIN webhooks w ON w.id = dl.webhook_id
		WHERE w.organization_id = $1
		ORDER BY dl.created_at DESC
		LIMIT $2 OFFSET $3
	`

	var entries []*model.DeadLetterEntry
	if err := r.db.SelectContext(ctx, &entries, query, orgID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}
