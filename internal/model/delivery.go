package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	// DeliveryStatusPending means the delivery is enqueued and waiting for
	// a worker to claim it.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusSending is the transient claimed state. A worker flips
	// pending/retrying to sending with a conditional update before any
	// network call, so two workers never send the same delivery.
	DeliveryStatusSending DeliveryStatus = "sending"
	// DeliveryStatusRetrying means a failed attempt is waiting for its
	// next_retry_at to come due.
	DeliveryStatusRetrying DeliveryStatus = "retrying"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
)

// MaxDeliveryAttempts bounds the retry loop. Once attempt reaches this the
// delivery is terminal and dead-lettered.
const MaxDeliveryAttempts = 7

// Delivery is one outbound webhook notification. Payload is snapshotted at
// creation time and never changes afterwards, so later edits to the webhook
// do not alter in-flight deliveries.
type Delivery struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	WebhookID    uuid.UUID       `db:"webhook_id" json:"webhook_id"`
	SubmissionID *uuid.UUID      `db:"submission_id" json:"submission_id,omitempty"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       DeliveryStatus  `db:"status" json:"status"`
	Attempt      int             `db:"attempt" json:"attempt"`
	LastStatus   *int            `db:"last_status" json:"last_status,omitempty"`
	LastError    *string         `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt  *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	DeliveredAt  *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (d *Delivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusFailed
}

// DeadLetterEntry records a delivery that exhausted all attempts. Written
// exactly once, by the delivery worker, at the terminal transition.
type DeadLetterEntry struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DeliveryID uuid.UUID `db:"delivery_id" json:"delivery_id"`
	WebhookID  uuid.UUID `db:"webhook_id" json:"webhook_id"`
	Reason     string    `db:"reason" json:"reason"`
	Attempts   int       `db:"attempts" json:"attempts"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// DeliveryPayload is the canonical outbound body. Built once by the
// dispatcher from the submission and frozen into Delivery.Payload.
type DeliveryPayload struct {
	Event      string             `json:"event"`
	Submission *PayloadSubmission `json:"submission"`
}

type PayloadSubmission struct {
	ID            uuid.UUID        `json:"id"`
	FormID        uuid.UUID        `json:"form_id"`
	RespondentKey string           `json:"respondent_key"`
	Locale        string           `json:"locale"`
	Answers       []*PayloadAnswer `json:"answers"`
	Metadata      Metadata         `json:"metadata"`
	CreatedAt     time.Time        `json:"created_at"`
}

type PayloadAnswer struct {
	BlockID string          `json:"block_id"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
}
