// Package deploy contains the deployment orchestrator: phase sequencing,
// the classified error taxonomy, retry policy, and poll helpers shared by
// the database and app reconcilers.
package deploy

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, temporary platform unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, a FAILED remote status, not found.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTimeout indicates a poll deadline elapsed before the remote
	// resource reached a terminal state. The outcome is unknown; callers
	// must distinguish this from a remote FAILED status.
	ErrorClassTimeout ErrorClass = "timeout"
)

// Error represents a classified deployment error with phase context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Phase is the deployment phase in which the error occurred.
	Phase string `json:"phase,omitempty"`

	// Resource is the remote resource involved, if applicable.
	Resource string `json:"resource,omitempty"`

	// LastStatus is the last observed remote status for timeout errors.
	LastStatus string `json:"last_status,omitempty"`

	// Err is the underlying error. Platform diagnostics are carried here
	// verbatim and never summarized away.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Class)
	if e.Phase != "" {
		prefix = fmt.Sprintf("[%s] %s:", e.Class, e.Phase)
	}
	msg := fmt.Sprintf("%s %s", prefix, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.LastStatus != "" {
		msg = fmt.Sprintf("%s (last status=%s)", msg, e.LastStatus)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *Error {
	return &Error{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error carrying the last observed
// remote status.
func NewTimeoutError(message, lastStatus string, err error) *Error {
	return &Error{
		Class:      ErrorClassTimeout,
		Message:    message,
		Code:       CodeTimeout,
		LastStatus: lastStatus,
		Err:        err,
	}
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithPhase adds phase context to an error.
func (e *Error) WithPhase(phase string) *Error {
	e.Phase = phase
	return e
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsTimeout returns true if the error is a poll-deadline timeout.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTimeout
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and throttled errors are retryable; timeouts are not, because
// the remote outcome is unknown and re-running the command is the recovery
// path.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// CodeOf returns the error code of a classified error, or empty.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeBuildFailed     = "BUILD_FAILED"
	CodeAssemblyFailed  = "ASSEMBLY_FAILED"
	CodeSyncFailed      = "SYNC_FAILED"
	CodeProvisionFailed = "PROVISION_FAILED"
	CodeAppFailed       = "APP_FAILED"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeNotFound        = "NOT_FOUND"
	CodeTimeout         = "TIMEOUT"
	CodePlatform        = "PLATFORM_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeCancelled       = "CANCELLED"
)
