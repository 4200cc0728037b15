package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the retention window for idempotency keys.
const DefaultTTL = 24 * time.Hour

// Result is the stored outcome of the first processing of a key. Replays
// within the retention window get this back unchanged.
type Result struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	StoredAt     time.Time `json:"stored_at"`
}

// Store deduplicates retried client submissions. Cheap key-value operations
// with expiry, deliberately not transactional with the main write.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(formID uuid.UUID, idempotencyKey string) string {
	return fmt.Sprintf("idem:%s:%s", formID, idempotencyKey)
}

// Get returns the stored result for (form, key), or nil if the key is
// unknown or expired.
func (s *Store) Get(ctx context.Context, formID uuid.UUID, idempotencyKey string) (*Result, error) {
	raw, err := s.client.Get(ctx, key(formID, idempotencyKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency result: %w", err)
	}
	return &res, nil
}

// Set records the result of the first processing. SetNX keeps the original
// result if two identical retries race each other.
func (s *Store) Set(ctx context.Context, formID uuid.UUID, idempotencyKey string, res *Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency result: %w", err)
	}
	if err := s.client.SetNX(ctx, key(formID, idempotencyKey), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}
