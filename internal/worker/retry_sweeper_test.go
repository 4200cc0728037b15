package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/service/dispatch"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
)

type fakeDeliveryRepo struct {
	batches     [][]uuid.UUID
	stale       [][]uuid.UUID
	staleCutoff time.Time
	deleted     int64
	cutoff      time.Time
}

func (f *fakeDeliveryRepo) Create(ctx context.Context, d *model.Delivery) error { return nil }

func (f *fakeDeliveryRepo) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	return nil, nil
}

func (f *fakeDeliveryRepo) Claim(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	return nil, nil
}

func (f *fakeDeliveryRepo) MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int, deliveredAt time.Time) error {
	return nil
}

func (f *fakeDeliveryRepo) ScheduleRetry(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string, nextRetryAt time.Time) error {
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempt int, statusCode *int, lastError string) error {
	return nil
}

func (f *fakeDeliveryRepo) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeDeliveryRepo) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.staleCutoff = cutoff
	if len(f.stale) == 0 {
		return nil, nil
	}
	batch := f.stale[0]
	f.stale = f.stale[1:]
	return batch, nil
}

func (f *fakeDeliveryRepo) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]*model.Delivery, error) {
	return nil, nil
}

func (f *fakeDeliveryRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	f.cutoff = before
	return f.deleted, nil
}

type memQueue struct {
	jobs []*queue.Job
}

func (m *memQueue) Enqueue(ctx context.Context, name string, job *queue.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memQueue) Consume(ctx context.Context, name string, handler queue.Handler) error {
	return nil
}

func (m *memQueue) Close() error { return nil }

func TestSweepReEnqueuesDueRetries(t *testing.T) {
	due := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	repo := &fakeDeliveryRepo{batches: [][]uuid.UUID{due}}
	jobs := &memQueue{}

	sweeper := NewRetrySweeper(repo, jobs, RetrySweeperConfig{BatchSize: 10},
		logger.NewLogger(nil), metrics.NewWithRegisterer("test", nil))

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.Len(t, jobs.jobs, 3)

	seen := map[uuid.UUID]bool{}
	for _, j := range jobs.jobs {
		assert.Equal(t, queue.JobDeliverySend, j.Type)
		var send dispatch.SendJob
		require.NoError(t, json.Unmarshal(j.Payload, &send))
		seen[send.DeliveryID] = true
	}
	for _, id := range due {
		assert.True(t, seen[id])
	}
}

// A delivery claimed into sending by a worker that then died would never be
// matched by the claim or the retry query again; the sweep has to bring it
// back to pending and re-enqueue it.
func TestSweepReclaimsStaleSending(t *testing.T) {
	stranded := []uuid.UUID{uuid.New(), uuid.New()}
	repo := &fakeDeliveryRepo{stale: [][]uuid.UUID{stranded}}
	jobs := &memQueue{}

	sweeper := NewRetrySweeper(repo, jobs, RetrySweeperConfig{BatchSize: 10, ClaimTimeout: 10 * time.Minute},
		logger.NewLogger(nil), metrics.NewWithRegisterer("test", nil))

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.Len(t, jobs.jobs, 2)

	seen := map[uuid.UUID]bool{}
	for _, j := range jobs.jobs {
		assert.Equal(t, queue.JobDeliverySend, j.Type)
		var send dispatch.SendJob
		require.NoError(t, json.Unmarshal(j.Payload, &send))
		seen[send.DeliveryID] = true
	}
	for _, id := range stranded {
		assert.True(t, seen[id])
	}

	// Rows younger than the claim timeout belong to live attempts.
	wantCutoff := time.Now().Add(-10 * time.Minute)
	assert.WithinDuration(t, wantCutoff, repo.staleCutoff, 5*time.Second)
}

// A full batch means more rows may be due; the sweep keeps draining until a
// short batch comes back.
func TestSweepDrainsFullBatches(t *testing.T) {
	batch1 := []uuid.UUID{uuid.New(), uuid.New()}
	batch2 := []uuid.UUID{uuid.New()}
	repo := &fakeDeliveryRepo{batches: [][]uuid.UUID{batch1, batch2}}
	jobs := &memQueue{}

	sweeper := NewRetrySweeper(repo, jobs, RetrySweeperConfig{BatchSize: 2},
		logger.NewLogger(nil), metrics.NewWithRegisterer("test", nil))

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Len(t, jobs.jobs, 3)
	assert.Empty(t, repo.batches)
}

func TestSweepNothingDue(t *testing.T) {
	jobs := &memQueue{}
	sweeper := NewRetrySweeper(&fakeDeliveryRepo{}, jobs, RetrySweeperConfig{},
		logger.NewLogger(nil), metrics.NewWithRegisterer("test", nil))

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, jobs.jobs)
}

func TestReaperPurgesWithRetention(t *testing.T) {
	repo := &fakeDeliveryRepo{deleted: 12}
	reaper := NewReaper(repo, ReaperConfig{Retention: 30 * 24 * time.Hour}, logger.NewLogger(nil))

	before := time.Now()
	require.NoError(t, reaper.purge(context.Background()))

	wantCutoff := before.Add(-30 * 24 * time.Hour)
	assert.WithinDuration(t, wantCutoff, repo.cutoff, time.Minute)
}
