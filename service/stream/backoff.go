package stream

import "time"

// backoffDelay returns the reconnect delay for the given attempt (1-based):
// min(base * 2^(attempt-1), max). Attempts beyond 30 doublings are clamped
// to max before shifting to avoid overflow.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return max
	}

	delay := base * time.Duration(1<<(attempt-1))
	if delay > max || delay < base {
		return max
	}
	return delay
}
