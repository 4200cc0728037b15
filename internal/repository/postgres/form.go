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

type formRepository struct {
	BaseRepository
}

func NewFormRepository(base BaseRepository) repository.FormRepository {
	return &formRepository{base}
}

func (r *formRepository) Get(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	query := `
		SELECT id, organization_id, title, status, ingest_secret, version, created_at, updated_at
		FROM forms
		WHERE id = $1
	`

	var form model.Form
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("form", err)
		}
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	return &form, nil
}

func (r *formRepository) Create(ctx context.Context, form *model.Form) error {
	query := `
		INSERT INTO forms (id, organization_id, title, status, ingest_secret, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	form.CreatedAt = time.Now()
	form.UpdatedAt = form.CreatedAt
	if form.Version == 0 {
		form.Version = 1
	}

	_, err := r.db.ExecContext(ctx, query,
		form.ID, form.OrganizationID, form.Title, form.Status,
		form.IngestSecret, form.Version, form.CreatedAt, form.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create form: %w", err)
	}
	return nil
}
