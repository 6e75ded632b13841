package sync

import "time"

// Reference retry tuning. The delay doubles per failed attempt and is
// capped so a long outage cannot push retries arbitrarily far out.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 3
)

// Delay returns the backoff delay before the next attempt after
// retryCount failures: min(base * 2^retryCount, max).
// Pure function: scheduling the retry is the caller's concern.
func Delay(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
