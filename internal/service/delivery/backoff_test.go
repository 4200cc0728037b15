package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PauFou/form-builder-sub001/internal/model"
)

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
		retry   bool
	}{
		{"first failure", 1, 30 * time.Second, true},
		{"second failure", 2, time.Minute, true},
		{"third failure", 3, 2 * time.Minute, true},
		{"fourth failure", 4, 4 * time.Minute, true},
		{"fifth failure", 5, 8 * time.Minute, true},
		{"sixth failure", 6, 16 * time.Minute, true},
		{"last attempt is terminal", 7, 0, false},
		{"past the maximum", 8, 0, false},
		{"zero attempt", 0, 0, false},
		{"negative attempt", -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, retry := Backoff(tt.attempt, model.MaxDeliveryAttempts, DefaultBaseBackoff, DefaultBackoffCap)
			assert.Equal(t, tt.retry, retry)
			assert.Equal(t, tt.want, delay)
		})
	}
}

func TestBackoffCaps(t *testing.T) {
	base := 20 * time.Minute
	cap := time.Hour

	delay, retry := Backoff(2, 10, base, cap)
	assert.True(t, retry)
	assert.Equal(t, 40*time.Minute, delay)

	delay, retry = Backoff(3, 10, base, cap)
	assert.True(t, retry)
	assert.Equal(t, cap, delay)

	delay, retry = Backoff(9, 10, base, cap)
	assert.True(t, retry)
	assert.Equal(t, cap, delay)
}

func TestBackoffMonotone(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt < model.MaxDeliveryAttempts; attempt++ {
		delay, retry := Backoff(attempt, model.MaxDeliveryAttempts, DefaultBaseBackoff, DefaultBackoffCap)
		assert.True(t, retry, "attempt %d should allow a retry", attempt)
		assert.GreaterOrEqual(t, delay, prev, "delay must never shrink")
		assert.LessOrEqual(t, delay, DefaultBackoffCap)
		prev = delay
	}
}

func TestBackoffDefaults(t *testing.T) {
	delay, retry := Backoff(1, model.MaxDeliveryAttempts, 0, 0)
	assert.True(t, retry)
	assert.Equal(t, DefaultBaseBackoff, delay)
}
