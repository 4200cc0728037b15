package model

import (
	"time"

	"github.com/google/uuid"
)

type FormStatus string

const (
	FormStatusDraft     FormStatus = "draft"
	FormStatusPublished FormStatus = "published"
	FormStatusArchived  FormStatus = "archived"
)

// Form is the ingestion-side view of a form: enough to authenticate and
// route a submission. The full form definition is owned by the admin app.
type Form struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	Title          string     `db:"title" json:"title"`
	Status         FormStatus `db:"status" json:"status"`
	// IngestSecret is the shared secret used to verify the
	// X-Forms-Signature header. Never serialized.
	IngestSecret string    `db:"ingest_secret" json:"-"`
	Version      int       `db:"version" json:"version"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (f *Form) IsPublished() bool {
	return f.Status == FormStatusPublished
}
