package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/model"
)

// ErrNotClaimable is returned by Claim when another worker already holds the
// delivery or it is in a terminal state.
var ErrNotClaimable = errors.New("delivery is not claimable")

type FormRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Form, error)
	Create(ctx context.Context, form *model.Form) error
}

type SubmissionRepository interface {
	// CreateWithAnswers writes the submission and all its answers as one
	// atomic unit.
	CreateWithAnswers(ctx context.Context, submission *model.Submission) error
	// UpsertPartial creates or replaces an autosave submission keyed by
	// (form_id, respondent_key).
	UpsertPartial(ctx context.Context, submission *model.Submission) error
	Get(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

type WebhookRepository interface {
	Create(ctx context.Context, webhook *model.Webhook) error
	Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*model.Webhook, error)
	// ListActiveForEvent is the registry query used by the dispatcher:
	// all active webhooks of an organization subscribed to eventType.
	ListActiveForEvent(ctx context.Context, orgID uuid.UUID, eventType string) ([]*model.Webhook, error)
	// SetActive flips the active flag. Scoped to the owning organization;
	// an id belonging to another tenant reports not found.
	SetActive(ctx context.Context, orgID, id uuid.UUID, active bool) error
	// IncrementCounters atomically bumps total plus success or failed.
	IncrementCounters(ctx context.Context, id uuid.UUID, success bool) error
}

type DeliveryRepository interface {
	Create(ctx context.Context, delivery *model.Delivery) error
	Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	// Claim conditionally transitions pending/retrying to sending and
	// returns the claimed row. ErrNotClaimable when the row was already
	// taken or is terminal.
	Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int, deliveredAt time.Time) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string) error
	// ClaimDueRetries flips due retrying rows back to pending and returns
	// their ids, using row locks so concurrent sweepers never double-claim.
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// ReclaimStale flips sending rows untouched since the cutoff back to
	// pending so a worker crash between claim and record cannot strand
	// them. Same locking discipline as ClaimDueRetries.
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]*model.Delivery, error)
	// DeleteTerminalBefore purges success/failed rows older than the cutoff.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

type DeadLetterRepository interface {
	Create(ctx context.Context, entry *model.DeadLetterEntry) error
	// List returns entries for the organization's webhooks only.
	List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*model.DeadLetterEntry, error)
}
