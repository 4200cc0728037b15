package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue names used by the delivery pipeline.
const (
	QueueEvents     = "events"
	QueueDeliveries = "deliveries"
	QueueAnalytics  = "analytics"
)

// Job types.
const (
	JobSubmissionCompleted = "submission.completed"
	JobDeliverySend        = "delivery.send"
	JobAnalyticsIngest     = "analytics.ingest"
)

// Job is one unit of work carried on a durable queue.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob marshals payload into a typed job.
func NewJob(jobType string, payload interface{}) (*Job, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    buf,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Handler processes one job. A nil return acknowledges the job; an error
// puts it back on the queue for redelivery.
type Handler func(ctx context.Context, job *Job) error

// Queue is a durable at-least-once job queue. Jobs are acknowledged only
// after the handler returns nil, so a crashed consumer's job is redelivered
// rather than lost.
type Queue interface {
	Enqueue(ctx context.Context, queue string, job *Job) error
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}
