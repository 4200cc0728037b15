package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PauFou/form-builder-sub001/internal/email"
	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	"github.com/PauFou/form-builder-sub001/internal/service/dispatch"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
)

// Outcome kinds for one attempt. The worker dispatches the recording
// callback on these rather than on framework hooks.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeTerminal
)

type Config struct {
	BaseBackoff time.Duration
	BackoffCap  time.Duration
}

// Service executes one delivery attempt at a time: claim, send, record.
type Service struct {
	deliveries  repository.DeliveryRepository
	webhooks    repository.WebhookRepository
	deadLetters repository.DeadLetterRepository
	sender      *Sender
	mailer      email.AlertMailer
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
	nowFn       func() time.Time
}

func NewService(
	deliveries repository.DeliveryRepository,
	webhooks repository.WebhookRepository,
	deadLetters repository.DeadLetterRepository,
	sender *Sender,
	mailer email.AlertMailer,
	config Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultBaseBackoff
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = DefaultBackoffCap
	}
	if mailer == nil {
		mailer = email.NoopMailer{}
	}
	return &Service{
		deliveries:  deliveries,
		webhooks:    webhooks,
		deadLetters: deadLetters,
		sender:      sender,
		mailer:      mailer,
		config:      config,
		logger:      log,
		metrics:     m,
		nowFn:       time.Now,
	}
}

// HandleSend consumes one delivery.send job. Send outcomes are recorded in
// the delivery row, never surfaced as job errors: a subscriber's
// unreliability must not churn the queue.
func (s *Service) HandleSend(ctx context.Context, job *queue.Job) error {
	var send dispatch.SendJob
	if err := json.Unmarshal(job.Payload, &send); err != nil {
		s.logger.Error(err, "dropping malformed send job", "job_id", job.ID.String())
		return nil
	}
	return s.Process(ctx, send.DeliveryID)
}

// Process claims and attempts one delivery.
func (s *Service) Process(ctx context.Context, id uuid.UUID) error {
	delivery, err := s.deliveries.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			// Another worker holds it or it already finished.
			s.logger.Debug("delivery not claimable", "delivery_id", id.String())
			return nil
		}
		return fmt.Errorf("failed to claim delivery: %w", err)
	}

	webhook, err := s.webhooks.Get(ctx, delivery.WebhookID)
	if err != nil {
		// Without the webhook there is no secret to sign with; count the
		// attempt as a retryable failure.
		s.record(ctx, delivery, nil, &SendResult{Err: fmt.Errorf("failed to load webhook: %w", err)})
		return nil
	}

	result := s.sender.Send(ctx, webhook, delivery)
	s.metrics.DeliveryLatency.Observe(result.Duration.Seconds())

	s.record(ctx, delivery, webhook, result)
	return nil
}

// record is the single place delivery state transitions happen.
func (s *Service) record(ctx context.Context, delivery *model.Delivery, webhook *model.Webhook, result *SendResult) {
	attempt := delivery.Attempt + 1

	switch s.classify(attempt, result) {
	case outcomeSuccess:
		s.recordSuccess(ctx, delivery, webhook, result)
	case outcomeRetryable:
		s.recordRetry(ctx, delivery, attempt, result)
	case outcomeTerminal:
		s.recordTerminal(ctx, delivery, webhook, attempt, result)
	}
}

func (s *Service) classify(attempt int, result *SendResult) outcome {
	if result.Success() {
		return outcomeSuccess
	}
	if attempt >= model.MaxDeliveryAttempts {
		return outcomeTerminal
	}
	return outcomeRetryable
}

func (s *Service) recordSuccess(ctx context.Context, delivery *model.Delivery, webhook *model.Webhook, result *SendResult) {
	now := s.nowFn()
	if err := s.deliveries.MarkSuccess(ctx, delivery.ID, result.StatusCode, now); err != nil {
		s.logger.Error(err, "failed to mark delivery success", "delivery_id", delivery.ID.String())
		return
	}
	if err := s.webhooks.IncrementCounters(ctx, webhook.ID, true); err != nil {
		s.logger.Error(err, "failed to increment webhook counters", "webhook_id", webhook.ID.String())
	}
	s.metrics.DeliveryAttempts.WithLabelValues("success").Inc()
	s.logger.Info("delivery succeeded",
		"delivery_id", delivery.ID.String(),
		"webhook_id", delivery.WebhookID.String(),
		"status", result.StatusCode,
		"attempt", delivery.Attempt+1)
}

func (s *Service) recordRetry(ctx context.Context, delivery *model.Delivery, attempt int, result *SendResult) {
	delay, ok := Backoff(attempt, model.MaxDeliveryAttempts, s.config.BaseBackoff, s.config.BackoffCap)
	if !ok {
		// classify already bounds attempt, this is unreachable in practice
		s.recordTerminal(ctx, delivery, nil, attempt, result)
		return
	}

	nextRetryAt := s.nowFn().Add(delay)
	if err := s.deliveries.ScheduleRetry(ctx, delivery.ID, attempt, statusCodeOf(result), errText(result), nextRetryAt); err != nil {
		s.logger.Error(err, "failed to schedule retry", "delivery_id", delivery.ID.String())
		return
	}
	s.metrics.DeliveryAttempts.WithLabelValues("retry").Inc()
	s.metrics.RetriesScheduled.Inc()
	s.logger.Warn("delivery attempt failed, retry scheduled",
		"delivery_id", delivery.ID.String(),
		"attempt", attempt,
		"next_retry_at", nextRetryAt.Format(time.RFC3339),
		"error", errText(result))
}

func (s *Service) recordTerminal(ctx context.Context, delivery *model.Delivery, webhook *model.Webhook, attempt int, result *SendResult) {
	reason := errText(result)
	if err := s.deliveries.MarkFailed(ctx, delivery.ID, attempt, statusCodeOf(result), reason); err != nil {
		s.logger.Error(err, "failed to mark delivery failed", "delivery_id", delivery.ID.String())
		return
	}
	if err := s.webhooks.IncrementCounters(ctx, delivery.WebhookID, false); err != nil {
		s.logger.Error(err, "failed to increment webhook counters", "webhook_id", delivery.WebhookID.String())
	}

	entry := &model.DeadLetterEntry{
		DeliveryID: delivery.ID,
		WebhookID:  delivery.WebhookID,
		Reason:     fmt.Sprintf("max retries exceeded: %s", reason),
		Attempts:   attempt,
	}
	if err := s.deadLetters.Create(ctx, entry); err != nil {
		s.logger.Error(err, "failed to create dead letter entry", "delivery_id", delivery.ID.String())
	}

	s.metrics.DeliveryAttempts.WithLabelValues("terminal").Inc()
	s.metrics.DeliveriesDeadLetter.Inc()
	s.logger.Error(nil, "delivery dead-lettered",
		"delivery_id", delivery.ID.String(),
		"webhook_id", delivery.WebhookID.String(),
		"attempts", attempt)

	var webhookURL string
	if webhook != nil {
		webhookURL = webhook.URL
	}
	if err := s.mailer.SendDeadLetterAlert(ctx, entry, webhookURL); err != nil {
		s.logger.Warn("failed to send dead letter alert", "error", err.Error())
	}
}

func statusCodeOf(result *SendResult) *int {
	if result.StatusCode == 0 {
		return nil
	}
	code := result.StatusCode
	return &code
}

func errText(result *SendResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return fmt.Sprintf("http status %d", result.StatusCode)
}
