package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/PauFou/form-builder-sub001/internal/model"
	"github.com/PauFou/form-builder-sub001/internal/repository"
	apperrors "github.com/PauFou/form-builder-sub001/pkg/errors"
	"github.com/PauFou/form-builder-sub001/pkg/idempotency"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
	"github.com/PauFou/form-builder-sub001/pkg/signature"
)

// Envelope is the ingestion request body. The signature is computed over the
// exact raw bytes, so the handler hands both the parsed and the raw form in.
type Envelope struct {
	Data           EnvelopeData `json:"data" binding:"required"`
	IdempotencyKey string       `json:"idempotency_key"`
	Timestamp      int64        `json:"timestamp"`
}

type EnvelopeData struct {
	FormID        uuid.UUID                  `json:"form_id"`
	RespondentKey string                     `json:"respondent_key" binding:"required"`
	Version       int                        `json:"version"`
	Locale        string                     `json:"locale"`
	Answers       []EnvelopeAnswer           `json:"answers"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	Partial       bool                       `json:"partial"`
}

type EnvelopeAnswer struct {
	BlockID string          `json:"block_id" binding:"required"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
}

// Result is what the ingest endpoint returns. Duplicate marks an
// idempotency-key replay served from the store.
type Result struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Duplicate    bool      `json:"-"`
}

// SubmissionCompletedEvent is the job payload handed to the dispatcher.
type SubmissionCompletedEvent struct {
	SubmissionID   uuid.UUID `json:"submission_id"`
	FormID         uuid.UUID `json:"form_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Event          string    `json:"event"`
}

type Config struct {
	SignatureTolerance time.Duration
	FormCacheTTL       time.Duration
}

// IdempotencyStore is the replay cache keyed by (form, idempotency key).
type IdempotencyStore interface {
	Get(ctx context.Context, formID uuid.UUID, idempotencyKey string) (*idempotency.Result, error)
	Set(ctx context.Context, formID uuid.UUID, idempotencyKey string, res *idempotency.Result) error
}

type Service struct {
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
	idem        IdempotencyStore
	jobs        queue.Queue
	formCache   *cache.Cache
	tolerance   time.Duration
	logger      *logger.Logger
	metrics     *metrics.Metrics
	nowFn       func() time.Time
}

func NewService(
	forms repository.FormRepository,
	submissions repository.SubmissionRepository,
	idem IdempotencyStore,
	jobs queue.Queue,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = signature.DefaultTolerance
	}
	if cfg.FormCacheTTL <= 0 {
		cfg.FormCacheTTL = 30 * time.Second
	}
	return &Service{
		forms:       forms,
		submissions: submissions,
		idem:        idem,
		jobs:        jobs,
		formCache:   cache.New(cfg.FormCacheTTL, 2*cfg.FormCacheTTL),
		tolerance:   cfg.SignatureTolerance,
		logger:      log,
		metrics:     m,
		nowFn:       time.Now,
	}
}

// Ingest runs the full pipeline for one signed submission: authenticate,
// deduplicate, persist, emit. body must be the exact raw request bytes.
func (s *Service) Ingest(ctx context.Context, formID uuid.UUID, body []byte, sigHeader, tsHeader string) (*Result, error) {
	form, err := s.form(ctx, formID)
	if err != nil {
		return nil, err
	}

	if err := s.authenticate(body, sigHeader, tsHeader, form.IngestSecret); err != nil {
		return nil, err
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, apperrors.MalformedPayload("invalid submission envelope", err)
	}
	if envelope.Data.RespondentKey == "" {
		return nil, apperrors.MalformedPayload("respondent_key is required", nil)
	}

	if !form.IsPublished() {
		return nil, apperrors.New(apperrors.CodeFormNotPublished, "form is not published", nil)
	}

	if envelope.IdempotencyKey != "" {
		prev, err := s.idem.Get(ctx, form.ID, envelope.IdempotencyKey)
		if err != nil {
			s.logger.Error(err, "idempotency lookup failed", "form_id", form.ID.String())
		} else if prev != nil {
			s.metrics.SubmissionsDuplicated.Inc()
			return &Result{SubmissionID: prev.SubmissionID, Duplicate: true}, nil
		}
	}

	submission, err := s.buildSubmission(form, &envelope)
	if err != nil {
		return nil, err
	}

	if submission.Partial {
		err = s.submissions.UpsertPartial(ctx, submission)
	} else {
		err = s.submissions.CreateWithAnswers(ctx, submission)
	}
	if err != nil {
		return nil, err
	}

	if envelope.IdempotencyKey != "" {
		res := &idempotency.Result{SubmissionID: submission.ID, StoredAt: s.nowFn().UTC()}
		if err := s.idem.Set(ctx, form.ID, envelope.IdempotencyKey, res); err != nil {
			s.logger.Error(err, "failed to store idempotency key", "form_id", form.ID.String())
		}
	}

	// Completed submissions fan out to webhooks; autosaves never do.
	if !submission.Partial {
		s.emitCompleted(ctx, form, submission)
	}
	s.emitAnalytics(ctx, form, submission)

	s.metrics.SubmissionsAccepted.Inc()
	return &Result{SubmissionID: submission.ID}, nil
}

func (s *Service) authenticate(body []byte, sigHeader, tsHeader, secret string) error {
	if err := signature.Verify(body, sigHeader, secret); err != nil {
		switch err {
		case signature.ErrMissingSignature:
			return apperrors.New(apperrors.CodeMissingSignature, "missing signature header", err)
		case signature.ErrInvalidSignatureFormat:
			return apperrors.New(apperrors.CodeInvalidSignatureFormat, "invalid signature format", err)
		default:
			return apperrors.New(apperrors.CodeInvalidSignature, "invalid signature", err)
		}
	}

	if err := signature.VerifyTimestamp(tsHeader, s.nowFn(), s.tolerance); err != nil {
		return apperrors.New(apperrors.CodeTimestampInvalid, "timestamp outside tolerance", err)
	}
	return nil
}

func (s *Service) buildSubmission(form *model.Form, envelope *Envelope) (*model.Submission, error) {
	metadata, err := model.ParseMetadata(envelope.Data.Metadata)
	if err != nil {
		return nil, apperrors.MalformedPayload("invalid metadata", err)
	}

	version := envelope.Data.Version
	if version == 0 {
		version = form.Version
	}

	now := s.nowFn()
	submission := &model.Submission{
		FormID:        form.ID,
		Version:       version,
		RespondentKey: envelope.Data.RespondentKey,
		Locale:        envelope.Data.Locale,
		Partial:       envelope.Data.Partial,
		Metadata:      metadata,
		StartedAt:     &now,
	}
	if !submission.Partial {
		submission.CompletedAt = &now
	}

	for _, a := range envelope.Data.Answers {
		submission.Answers = append(submission.Answers, &model.Answer{
			BlockID: a.BlockID,
			Type:    a.Type,
			Value:   a.Value,
		})
	}
	return submission, nil
}

// emitCompleted hands the event to the dispatcher queue. Enqueue failure is
// logged, not surfaced: delivery problems never affect ingestion availability.
func (s *Service) emitCompleted(ctx context.Context, form *model.Form, submission *model.Submission) {
	event := SubmissionCompletedEvent{
		SubmissionID:   submission.ID,
		FormID:         form.ID,
		OrganizationID: form.OrganizationID,
		Event:          model.EventSubmissionCompleted,
	}

	job, err := queue.NewJob(queue.JobSubmissionCompleted, event)
	if err != nil {
		s.logger.Error(err, "failed to build completion job", "submission_id", submission.ID.String())
		return
	}
	if err := s.jobs.Enqueue(ctx, queue.QueueEvents, job); err != nil {
		s.logger.Error(err, "failed to enqueue completion event", "submission_id", submission.ID.String())
		return
	}
	s.metrics.JobsEnqueued.WithLabelValues(queue.QueueEvents).Inc()
}

// emitAnalytics is strictly best effort.
func (s *Service) emitAnalytics(ctx context.Context, form *model.Form, submission *model.Submission) {
	job, err := queue.NewJob(queue.JobAnalyticsIngest, map[string]interface{}{
		"form_id":       form.ID,
		"submission_id": submission.ID,
		"partial":       submission.Partial,
		"locale":        submission.Locale,
	})
	if err != nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, queue.QueueAnalytics, job); err != nil {
		s.logger.Debug("analytics enqueue failed", "error", err.Error())
		return
	}
	s.metrics.JobsEnqueued.WithLabelValues(queue.QueueAnalytics).Inc()
}

func (s *Service) form(ctx context.Context, id uuid.UUID) (*model.Form, error) {
	key := id.String()
	if cached, ok := s.formCache.Get(key); ok {
		return cached.(*model.Form), nil
	}

	form, err := s.forms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.formCache.Set(key, form, cache.DefaultExpiration)
	return form, nil
}
