package deploy

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for transient platform errors.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is the backoff delay for the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the retry policy used for uploads and other
// idempotent platform calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Retry executes fn, retrying with exponential backoff and jitter while the
// returned error is retryable under the deploy error taxonomy. The last
// error is returned once retries are exhausted or a non-retryable error is
// seen. Cancellation interrupts the backoff sleep.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.backoff(attempt, lastErr)
		select {
		case <-ctx.Done():
			return NewPermanentError("retry cancelled", ctx.Err()).WithCode(CodeCancelled)
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoff computes exponential backoff with jitter. Throttled errors back
// off from a larger base delay.
func (p RetryPolicy) backoff(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if IsThrottled(err) {
		base *= 5
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	// Jitter of up to 25% keeps concurrent workers from retrying in step.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
