package scheduler

import (
	"math"
	"time"
)

// maxBackoff caps any single retry delay
const maxBackoff = 10 * time.Minute

// Exponential returns initial * 2^(attempt-1), capped at maxBackoff.
// Attempt 1 returns initial.
func Exponential(attempt int, initial time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// RetryDelay is the wait before the next attempt of a job that has failed
// failedAttempts times
func RetryDelay(opts BackoffOptions, failedAttempts int) time.Duration {
	initial := time.Duration(opts.Delay) * time.Millisecond
	if opts.Type == "fixed" {
		return initial
	}
	return Exponential(failedAttempts, initial)
}
