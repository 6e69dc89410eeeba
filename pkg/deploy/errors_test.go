package deploy

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		transient bool
		throttled bool
		permanent bool
		timeout   bool
		retryable bool
	}{
		{
			name:      "transient",
			err:       NewTransientError("connection reset", nil),
			transient: true,
			retryable: true,
		},
		{
			name:      "throttled",
			err:       NewThrottledError("rate limited", nil),
			throttled: true,
			retryable: true,
		},
		{
			name:      "permanent",
			err:       NewPermanentError("bad config", nil),
			permanent: true,
		},
		{
			name:    "timeout is not retryable",
			err:     NewTimeoutError("deadline exceeded", "CREATING", nil),
			timeout: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsThrottled(tt.err); got != tt.throttled {
				t.Errorf("IsThrottled = %v, want %v", got, tt.throttled)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout = %v, want %v", got, tt.timeout)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestErrorClassification_Wrapped(t *testing.T) {
	inner := NewTransientError("upload failed", nil).WithCode(CodeSyncFailed)
	wrapped := fmt.Errorf("phase sync: %w", inner)

	if !IsTransient(wrapped) {
		t.Error("classification should survive wrapping")
	}
	if CodeOf(wrapped) != CodeSyncFailed {
		t.Errorf("expected SYNC_FAILED through wrapping, got %s", CodeOf(wrapped))
	}
}

func TestErrorClassification_PlainError(t *testing.T) {
	err := errors.New("something else")
	if IsTransient(err) || IsThrottled(err) || IsPermanent(err) || IsTimeout(err) {
		t.Error("plain errors have no class")
	}
	if IsRetryable(err) {
		t.Error("plain errors are not retryable")
	}
}

func TestTimeoutError_CarriesLastStatus(t *testing.T) {
	err := NewTimeoutError("deadline exceeded waiting for database instance", "CREATING", nil)
	if err.LastStatus != "CREATING" {
		t.Errorf("expected last status CREATING, got %s", err.LastStatus)
	}
	if err.Code != CodeTimeout {
		t.Errorf("expected TIMEOUT code, got %s", err.Code)
	}
}

func TestError_PreservesDiagnosticText(t *testing.T) {
	diagnostic := errors.New("compute quota exceeded in region us-west: request id 1234")
	err := NewPermanentError("app deployment reached FAILED", diagnostic).
		WithCode(CodeAppFailed).WithPhase(PhaseApp).WithResource("demo")

	msg := err.Error()
	for _, want := range []string{"compute quota exceeded", "app", "demo"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error text missing %q: %s", want, msg)
		}
	}
	if !errors.Is(err, diagnostic) {
		t.Error("underlying diagnostic must stay unwrappable")
	}
}
