package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	"github.com/PauFou/form-builder-sub001/internal/service/ingest"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
)

// SendJob is the per-delivery job handed to the delivery workers.
type SendJob struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
}

// Service fans one completed submission out into Delivery rows, one per
// matching active webhook, each with an immutable payload snapshot.
type Service struct {
	webhooks    repository.WebhookRepository
	deliveries  repository.DeliveryRepository
	submissions repository.SubmissionRepository
	jobs        queue.Queue
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	webhooks repository.WebhookRepository,
	deliveries repository.DeliveryRepository,
	submissions repository.SubmissionRepository,
	jobs queue.Queue,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		webhooks:    webhooks,
		deliveries:  deliveries,
		submissions: submissions,
		jobs:        jobs,
		logger:      log,
		metrics:     m,
	}
}

// HandleSubmissionCompleted consumes one submission.completed job. Returning
// an error requeues the job, so fan-out is at-least-once; duplicate fan-out
// of an already dispatched delivery is prevented by the claim transition.
func (s *Service) HandleSubmissionCompleted(ctx context.Context, job *queue.Job) error {
	var event ingest.SubmissionCompletedEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		// Unparseable payload will never succeed; drop it.
		s.logger.Error(err, "dropping malformed completion event", "job_id", job.ID.String())
		return nil
	}

	submission, err := s.submissions.Get(ctx, event.SubmissionID)
	if err != nil {
		return fmt.Errorf("failed to load submission %s: %w", event.SubmissionID, err)
	}

	webhooks, err := s.webhooks.ListActiveForEvent(ctx, event.OrganizationID, event.Event)
	if err != nil {
		return fmt.Errorf("failed to load webhooks: %w", err)
	}
	if len(webhooks) == 0 {
		return nil
	}

	payload, err := buildPayload(event.Event, submission)
	if err != nil {
		return fmt.Errorf("failed to build delivery payload: %w", err)
	}

	for _, webhook := range webhooks {
		delivery := &model.Delivery{
			WebhookID:    webhook.ID,
			SubmissionID: &submission.ID,
			EventType:    event.Event,
			Payload:      payload,
		}
		if err := s.deliveries.Create(ctx, delivery); err != nil {
			return fmt.Errorf("failed to create delivery for webhook %s: %w", webhook.ID, err)
		}
		s.metrics.DeliveriesDispatched.Inc()

		if err := s.enqueueSend(ctx, delivery.ID); err != nil {
			// The retry sweeper will not see pending rows, so a lost send
			// job means a stuck delivery; surface the error for redelivery
			// of the whole event. Already created deliveries are claimed
			// exactly once regardless.
			return err
		}
	}

	return nil
}

func (s *Service) enqueueSend(ctx context.Context, deliveryID uuid.UUID) error {
	job, err := queue.NewJob(queue.JobDeliverySend, SendJob{DeliveryID: deliveryID})
	if err != nil {
		return fmt.Errorf("failed to build send job: %w", err)
	}
	if err := s.jobs.Enqueue(ctx, queue.QueueDeliveries, job); err != nil {
		return fmt.Errorf("failed to enqueue send job: %w", err)
	}
	s.metrics.JobsEnqueued.WithLabelValues(queue.QueueDeliveries).Inc()
	return nil
}

// buildPayload snapshots the canonical outbound body at dispatch time.
func buildPayload(event string, submission *model.Submission) (json.RawMessage, error) {
	answers := make([]*model.PayloadAnswer, 0, len(submission.Answers))
	for _, a := range submission.Answers {
		answers = append(answers, &model.PayloadAnswer{
			BlockID: a.BlockID,
			Type:    a.Type,
			Value:   a.Value,
		})
	}

	payload := &model.DeliveryPayload{
		Event: event,
		Submission: &model.PayloadSubmission{
			ID:            submission.ID,
			FormID:        submission.FormID,
			RespondentKey: submission.RespondentKey,
			Locale:        submission.Locale,
			Answers:       answers,
			Metadata:      submission.Metadata,
			CreatedAt:     submission.CreatedAt,
		},
	}
	return json.Marshal(payload)
}
