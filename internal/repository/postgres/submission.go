package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
)

type submissionRepository struct {
	BaseRepository
}

func NewSubmissionRepository(base BaseRepository) repository.SubmissionRepository {
	return &submissionRepository{base}
}

const insertSubmission = `
	INSERT INTO submissions (
		id, form_id, version, respondent_key, locale, partial,
		metadata, started_at, completed_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertAnswer = `
	INSERT INTO answers (id, submission_id, block_id, type, value, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

func (r *submissionRepository) CreateWithAnswers(ctx context.Context, submission *model.Submission) error {
	if submission.ID == uuid.Nil {
		submission.ID = uuid.New()
	}
	now := time.Now()
	submission.CreatedAt = now
	submission.UpdatedAt = now

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertSubmission,
			submission.ID, submission.FormID, submission.Version,
			submission.RespondentKey, submission.Locale, submission.Partial,
			submission.Metadata, submission.StartedAt, submission.CompletedAt,
			submission.CreatedAt, submission.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}

		return insertAnswers(ctx, tx, submission, now)
	})
	if err != nil {
		return apperrors.New(apperrors.CodePersistenceFailure, "failed to persist submission", err)
	}
	return nil
}

func (r *submissionRepository) UpsertPartial(ctx context.Context, submission *model.Submission) error {
	if submission.ID == uuid.Nil {
		submission.ID = uuid.New()
	}
	now := time.Now()
	submission.CreatedAt = now
	submission.UpdatedAt = now

	// Partial saves replace the previous autosave for the same respondent.
	query := `
		INSERT INTO submissions (
			id, form_id, version, respondent_key, locale, partial,
			metadata, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, NULL, $8, $8)
		ON CONFLICT (form_id, respondent_key) WHERE partial
		DO UPDATE SET
			version = EXCLUDED.version,
			locale = EXCLUDED.locale,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var id uuid.UUID
		if err := tx.QueryRowxContext(ctx, query,
			submission.ID, submission.FormID, submission.Version,
			submission.RespondentKey, submission.Locale,
			submission.Metadata, submission.StartedAt, now,
		).Scan(&id); err != nil {
			return fmt.Errorf("failed to upsert partial submission: %w", err)
		}
		submission.ID = id

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM answers WHERE submission_id = $1`, id,
		); err != nil {
			return fmt.Errorf("failed to clear previous answers: %w", err)
		}

		return insertAnswers(ctx, tx, submission, now)
	})
	if err != nil {
		return apperrors.New(apperrors.CodePersistenceFailure, "failed to persist partial submission", err)
	}
	return nil
}

func insertAnswers(ctx context.Context, tx *sqlx.Tx, submission *model.Submission, now time.Time) error {
	for _, answer := range submission.Answers {
		if answer.ID == uuid.Nil {
			answer.ID = uuid.New()
		}
		answer.SubmissionID = submission.ID
		answer.CreatedAt = now

		if _, err := tx.ExecContext(ctx, insertAnswer,
			answer.ID, answer.SubmissionID, answer.BlockID,
			answer.Type, answer.Value, answer.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert answer %s: %w", answer.BlockID, err)
		}
	}
	return nil
}

func (r *submissionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	query := `
		SELECT id, form_id, version, respondent_key, locale, partial,
			metadata, started_at, completed_at, created_at, updated_at
		FROM submissions
		WHERE id = $1
	`

	var submission model.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("submission", err)
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	answersQuery := `
		SELECT id, submission_id, block_id, type, value, created_at
		FROM answers
		WHERE submission_id = $1
		ORDER BY created_at ASC, block_id ASC
	`
	if err := r.db.SelectContext(ctx, &submission.Answers, answersQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}

	return &submission, nil
}
