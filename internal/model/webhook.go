package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	EventSubmissionCompleted = "submission.completed"
	EventSubmissionPartial   = "submission.partial"
	EventFormPublished       = "form.published"
)

// HeaderMap is a JSONB column of subscriber-configured headers.
type HeaderMap map[string]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(h)
}

func (h *HeaderMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return fmt.Errorf("unsupported header map source type %T", src)
	}
}

// Webhook is a tenant-configured HTTP subscription to one or more event
// types. Secret is write-once: it is returned exactly once at creation and
// never logged or serialized afterwards.
type Webhook struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	OrganizationID uuid.UUID      `db:"organization_id" json:"organization_id"`
	URL            string         `db:"url" json:"url"`
	Secret         string         `db:"secret" json:"-"`
	Active         bool           `db:"active" json:"active"`
	EventTypes     pq.StringArray `db:"event_types" json:"event_types"`
	Headers        HeaderMap      `db:"headers" json:"headers,omitempty"`

	TotalDeliveries      int64 `db:"total_deliveries" json:"total_deliveries"`
	SuccessfulDeliveries int64 `db:"successful_deliveries" json:"successful_deliveries"`
	FailedDeliveries     int64 `db:"failed_deliveries" json:"failed_deliveries"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (w *Webhook) SubscribesTo(eventType string) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
