package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/repository"
	"github.com/PauFou/form-builder-sub001/internal/service/dispatch"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
)

type RetrySweeperConfig struct {
	Interval     time.Duration
	BatchSize    int
	ClaimTimeout time.Duration
}

// RetrySweeper periodically re-enqueues deliveries whose retry is due, and
// reclaims rows stranded in sending by a worker that died mid-attempt. This
// is the only path that revives a delivery after a failed attempt.
type RetrySweeper struct {
	deliveries repository.DeliveryRepository
	jobs       queue.Queue
	config     RetrySweeperConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewRetrySweeper(
	deliveries repository.DeliveryRepository,
	jobs queue.Queue,
	config RetrySweeperConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *RetrySweeper {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = 10 * time.Minute
	}
	return &RetrySweeper{
		deliveries: deliveries,
		jobs:       jobs,
		config:     config,
		logger:     log,
		metrics:    m,
	}
}

func (w *RetrySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("starting retry sweeper", "interval", w.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down retry sweeper")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error(err, "retry sweep failed")
			}
		}
	}
}

// Sweep claims all due retries plus any stale sending rows and hands them
// back to the delivery queue.
func (w *RetrySweeper) Sweep(ctx context.Context) error {
	if err := w.drain(ctx, "due retries", func() ([]uuid.UUID, error) {
		return w.deliveries.ClaimDueRetries(ctx, time.Now(), w.config.BatchSize)
	}); err != nil {
		return err
	}

	// Claimed rows that were never recorded would otherwise sit in sending
	// forever: the claim only matches pending and retrying.
	return w.drain(ctx, "stale sending rows", func() ([]uuid.UUID, error) {
		cutoff := time.Now().Add(-w.config.ClaimTimeout)
		return w.deliveries.ReclaimStale(ctx, cutoff, w.config.BatchSize)
	})
}

func (w *RetrySweeper) drain(ctx context.Context, kind string, claim func() ([]uuid.UUID, error)) error {
	for {
		ids, err := claim()
		if err != nil {
			return fmt.Errorf("failed to claim %s: %w", kind, err)
		}
		if len(ids) == 0 {
			return nil
		}

		for _, id := range ids {
			job, err := queue.NewJob(queue.JobDeliverySend, dispatch.SendJob{DeliveryID: id})
			if err != nil {
				return fmt.Errorf("failed to build send job: %w", err)
			}
			if err := w.jobs.Enqueue(ctx, queue.QueueDeliveries, job); err != nil {
				return fmt.Errorf("failed to enqueue delivery %s: %w", id, err)
			}
			w.metrics.JobsEnqueued.WithLabelValues(queue.QueueDeliveries).Inc()
		}

		w.logger.Info("re-enqueued deliveries", "kind", kind, "count", len(ids))
		if len(ids) < w.config.BatchSize {
			return nil
		}
	}
}
