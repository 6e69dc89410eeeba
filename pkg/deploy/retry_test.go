package deploy

import (
	"context"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return NewTransientError("blip", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		attempts++
		return NewPermanentError("bad request", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permanent error retried %d times", attempts-1)
	}
}

func TestRetry_TimeoutNotRetried(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		attempts++
		return NewTimeoutError("deadline", "CREATING", nil)
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("timeout retried %d times", attempts-1)
	}
}

func TestRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(), func() error {
		attempts++
		return NewTransientError("still down", nil)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("expected initial attempt plus 3 retries, got %d", attempts)
	}
	if !IsTransient(err) {
		t.Errorf("expected last transient error, got %v", err)
	}
}

func TestRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, policy, func() error {
		return NewTransientError("down", nil)
	})
	if CodeOf(err) != CodeCancelled {
		t.Errorf("expected CANCELLED, got %v", err)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	err := NewTransientError("x", nil)

	prev := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		d := policy.backoff(attempt, err)
		if d < prev {
			t.Errorf("backoff shrank at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
	// cap plus max jitter
	if d := policy.backoff(9, err); d > time.Second+time.Second/4 {
		t.Errorf("backoff exceeded cap with jitter: %v", d)
	}
}

func TestBackoff_ThrottledBacksOffHarder(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}
	transient := policy.backoff(0, NewTransientError("x", nil))
	throttled := policy.backoff(0, NewThrottledError("x", nil))
	if throttled <= transient {
		t.Errorf("throttled backoff (%v) should exceed transient (%v)", throttled, transient)
	}
}
