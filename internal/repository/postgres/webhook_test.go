package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauFou/form-builder-sub001/internal/model"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
)

func webhookRows(w *model.Webhook) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "url", "secret", "active", "event_types", "headers",
		"total_deliveries", "successful_deliveries", "failed_deliveries",
		"created_at", "updated_at",
	}).AddRow(
		w.ID.String(), w.OrganizationID.String(), w.URL, w.Secret, w.Active,
		`{submission.completed}`, []byte(`{}`),
		w.TotalDeliveries, w.SuccessfulDeliveries, w.FailedDeliveries,
		w.CreatedAt, w.UpdatedAt,
	)
}

func TestWebhookListActiveForEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookRepository(NewBaseRepository(db))

	webhook := &model.Webhook{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		URL:            "https://example.com/hook",
		Secret:         "webhook-secret-value",
		Active:         true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	mock.ExpectQuery("SELECT(.+)FROM webhooks").
		WithArgs(webhook.OrganizationID, model.EventSubmissionCompleted).
		WillReturnRows(webhookRows(webhook))

	webhooks, err := repo.ListActiveForEvent(context.Background(), webhook.OrganizationID, model.EventSubmissionCompleted)
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	assert.Equal(t, webhook.ID, webhooks[0].ID)
	assert.True(t, webhooks[0].SubscribesTo(model.EventSubmissionCompleted))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookSetActiveNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookRepository(NewBaseRepository(db))

	orgID, id := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE webhooks").
		WithArgs(id, orgID, false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetActive(context.Background(), orgID, id, false)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookIncrementCounters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookRepository(NewBaseRepository(db))

	id := uuid.New()
	mock.ExpectExec("UPDATE webhooks").
		WithArgs(id, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhooks").
		WithArgs(id, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementCounters(context.Background(), id, true))
	require.NoError(t, repo.IncrementCounters(context.Background(), id, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}
