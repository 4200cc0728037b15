package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func deliveryRows(d *model.Delivery) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "webhook_id", "submission_id", "event_type", "payload", "status", "attempt",
		"last_status", "last_error", "next_retry_at", "delivered_at", "created_at", "updated_at",
	}).AddRow(
		d.ID.String(), d.WebhookID.String(), nil, d.EventType, []byte(d.Payload), string(d.Status), d.Attempt,
		d.LastStatus, d.LastError, d.NextRetryAt, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
	)
}

func TestDeliveryClaim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	delivery := &model.Delivery{
		ID:        uuid.New(),
		WebhookID: uuid.New(),
		EventType: model.EventSubmissionCompleted,
		Payload:   json.RawMessage(`{}`),
		Status:    model.DeliveryStatusSending,
		Attempt:   2,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectQuery("UPDATE deliveries").
		WithArgs(delivery.ID, model.DeliveryStatusSending, model.DeliveryStatusPending, model.DeliveryStatusRetrying).
		WillReturnRows(deliveryRows(delivery))

	claimed, err := repo.Claim(context.Background(), delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.ID, claimed.ID)
	assert.Equal(t, model.DeliveryStatusSending, claimed.Status)
	assert.Equal(t, 2, claimed.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A terminal or already-sending row matches no rows, which the repository
// reports as ErrNotClaimable rather than a database error.
func TestDeliveryClaimAlreadyTaken(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	id := uuid.New()
	mock.ExpectQuery("UPDATE deliveries").
		WithArgs(id, model.DeliveryStatusSending, model.DeliveryStatusPending, model.DeliveryStatusRetrying).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Claim(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotClaimable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryCreateRejectsNilPayload(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	err := repo.Create(context.Background(), &model.Delivery{WebhookID: uuid.New()})
	assert.Error(t, err)
}

func TestDeliveryMarkSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	id := uuid.New()
	deliveredAt := time.Now()
	mock.ExpectExec("UPDATE deliveries").
		WithArgs(id, model.DeliveryStatusSuccess, 200, deliveredAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkSuccess(context.Background(), id, 200, deliveredAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryScheduleRetry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	id := uuid.New()
	status := 503
	nextRetryAt := time.Now().Add(time.Minute)
	mock.ExpectExec("UPDATE deliveries").
		WithArgs(id, model.DeliveryStatusRetrying, 3, &status, "subscriber returned status 503", nextRetryAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ScheduleRetry(context.Background(), id, 3, &status, "subscriber returned status 503", nextRetryAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryClaimDueRetries(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	now := time.Now()
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(model.DeliveryStatusRetrying, now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1.String()).AddRow(id2.String()))
	mock.ExpectExec("UPDATE deliveries").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ids, err := repo.ClaimDueRetries(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryClaimDueRetriesNoneDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(model.DeliveryStatusRetrying, now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	ids, err := repo.ClaimDueRetries(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryReclaimStale(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	cutoff := time.Now().Add(-10 * time.Minute)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(model.DeliveryStatusSending, cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec("UPDATE deliveries").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := repo.ReclaimStale(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryReclaimStaleNoneStuck(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	cutoff := time.Now().Add(-10 * time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
		WithArgs(model.DeliveryStatusSending, cutoff, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	ids, err := repo.ReclaimStale(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryDeleteTerminalBefore(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM deliveries").
		WithArgs(model.DeliveryStatusSuccess, model.DeliveryStatusFailed, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
