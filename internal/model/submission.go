package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MetadataSchemaVersion is the only metadata shape the boundary accepts.
const MetadataSchemaVersion = 1

type Submission struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	FormID        uuid.UUID  `db:"form_id" json:"form_id"`
	Version       int        `db:"version" json:"version"`
	RespondentKey string     `db:"respondent_key" json:"respondent_key"`
	Locale        string     `db:"locale" json:"locale"`
	Partial       bool       `db:"partial" json:"partial"`
	Metadata      Metadata   `db:"metadata" json:"metadata"`
	StartedAt     *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Answers []*Answer `db:"-" json:"answers"`
}

// Answer belongs to exactly one submission and is only ever written in the
// same transaction as its parent.
type Answer struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	SubmissionID uuid.UUID       `db:"submission_id" json:"submission_id"`
	BlockID      string          `db:"block_id" json:"block_id"`
	Type         string          `db:"type" json:"type"`
	Value        json.RawMessage `db:"value" json:"value"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Metadata is the versioned, fixed-shape metadata map accepted on a
// submission. Unknown keys are rejected at the boundary instead of being
// passed through to consumers.
type Metadata struct {
	SchemaVersion int               `json:"schema_version"`
	Source        string            `json:"source,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Referrer      string            `json:"referrer,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

var metadataKnownKeys = map[string]struct{}{
	"schema_version": {},
	"source":         {},
	"user_agent":     {},
	"referrer":       {},
	"tags":           {},
}

// ParseMetadata validates a raw metadata object against the fixed schema.
// A nil map yields a valid empty metadata at the current version.
func ParseMetadata(raw map[string]json.RawMessage) (Metadata, error) {
	md := Metadata{SchemaVersion: MetadataSchemaVersion}
	if len(raw) == 0 {
		return md, nil
	}

	for key := range raw {
		if _, ok := metadataKnownKeys[key]; !ok {
			return md, fmt.Errorf("unknown metadata key %q", key)
		}
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return md, fmt.Errorf("failed to normalize metadata: %w", err)
	}
	if err := json.Unmarshal(buf, &md); err != nil {
		return md, fmt.Errorf("malformed metadata: %w", err)
	}

	if md.SchemaVersion == 0 {
		md.SchemaVersion = MetadataSchemaVersion
	}
	if md.SchemaVersion != MetadataSchemaVersion {
		return md, fmt.Errorf("unsupported metadata schema_version %d", md.SchemaVersion)
	}
	return md, nil
}

// Value / Scan make Metadata a JSONB column for sqlx.

func (m Metadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{SchemaVersion: MetadataSchemaVersion}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata source type %T", src)
	}
}
