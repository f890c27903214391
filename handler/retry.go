package handler

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an explicit retry contract handed to handlers that retry.
// Instead of relying on the next cron tick to accidentally re-run failed
// work, a handler consults its policy to decide whether and when a job
// should run again.
type RetryPolicy struct {
	MaxAttempts int
	newBackOff  func() backoff.BackOff
}

// ConstantRetry retries up to maxAttempts with a fixed delay between
// attempts. The push notification handler uses this with a 5 minute delay.
func ConstantRetry(maxAttempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		},
	}
}

// ExponentialRetry retries up to maxAttempts with exponential backoff
// starting from initial.
func ExponentialRetry(maxAttempts int, initial time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.RandomizationFactor = 0 // Deterministic for testability
			return b
		},
	}
}

// NoRetry fails permanently on the first error.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// RescheduleError asks the dispatcher to return the job to pending and run
// it again after Delay, instead of completing or failing it. Handlers
// return it when work remains that only becomes due later, such as
// notification deliveries waiting out their retry delay.
type RescheduleError struct {
	Delay time.Duration
	Cause error
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("reschedule in %s: %v", e.Delay, e.Cause)
}

func (e *RescheduleError) Unwrap() error { return e.Cause }

// RescheduleAfter wraps cause in a RescheduleError with the given delay.
func RescheduleAfter(delay time.Duration, cause error) error {
	return &RescheduleError{Delay: delay, Cause: cause}
}

// NextDelay returns the delay before the given retry, where attempt is the
// number of attempts already made (1 after the first failure). The second
// return is false when the attempt budget is exhausted and the job should
// be marked failed permanently.
func (p RetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts || p.newBackOff == nil {
		return 0, false
	}

	b := p.newBackOff()
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
		if delay == backoff.Stop {
			return 0, false
		}
	}
	return delay, true
}
