package deploy

import (
	"errors"

	"github.com/lakedeploy/lakedeploy/pkg/platform"
)

// FromPlatform classifies an error returned by the platform client.
// Sentinel lookups map to permanent NOT_FOUND / ALREADY_EXISTS guidance
// errors, rate limits become throttled, 5xx and network failures become
// transient, and everything else is a permanent platform error. The
// original error is kept wrapped so the platform's diagnostic text
// survives to the final report.
func FromPlatform(message string, err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, platform.ErrNotFound):
		return NewPermanentError(message, err).WithCode(CodeNotFound)
	case errors.Is(err, platform.ErrAlreadyExists):
		return NewPermanentError(message, err).WithCode(CodeAlreadyExists)
	}

	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Throttled():
			return NewThrottledError(message, err).WithCode(CodeRateLimited)
		case apiErr.Retryable():
			return NewTransientError(message, err).WithCode(CodePlatform)
		default:
			return NewPermanentError(message, err).WithCode(CodePlatform)
		}
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	// Transport-level failures (connection reset, DNS) arrive as plain
	// errors from net/http and are worth retrying.
	return NewTransientError(message, err).WithCode(CodePlatform)
}
