package delivery

import "time"

const (
	// DefaultBaseBackoff puts the first retry 30s after the first failure.
	DefaultBaseBackoff = 30 * time.Second
	// DefaultBackoffCap bounds the doubling so late retries stay hourly.
	DefaultBackoffCap = time.Hour
)

// Backoff returns the delay before retry number attempt (1-based count of
// failures so far) and whether a retry is allowed at all. Delays double from
// base, capped, and attempts at or past the maximum get no further retry.
func Backoff(attempt, maxAttempts int, base, cap time.Duration) (time.Duration, bool) {
	if attempt < 1 || attempt >= maxAttempts {
		return 0, false
	}
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap, true
		}
	}
	if delay > cap {
		delay = cap
	}
	return delay, true
}
