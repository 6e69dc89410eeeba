package config

import (
	"errors"
	"fmt"
)

// Reason classifies a configuration loading failure.
type Reason string

const (
	// ReasonMissingField indicates a required field is absent or empty.
	ReasonMissingField Reason = "missing_field"

	// ReasonInvalidEnum indicates a value outside its closed enum.
	ReasonInvalidEnum Reason = "invalid_enum"

	// ReasonTemplate indicates a placeholder could not be substituted.
	ReasonTemplate Reason = "template_substitution_failed"

	// ReasonBadFile indicates the file is missing or not parseable.
	ReasonBadFile Reason = "bad_file"

	// ReasonUnknownEnvironment indicates the requested environment is not
	// declared in the file.
	ReasonUnknownEnvironment Reason = "unknown_environment"
)

// Error is a typed configuration error. Configuration errors are never
// retried; the file must be fixed and the command re-run.
type Error struct {
	Reason Reason
	Field  string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s (field %s): %v", e.Reason, e.Field, e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf returns the reason of a config error, or empty.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func newError(reason Reason, field string, err error) *Error {
	return &Error{Reason: reason, Field: field, Err: err}
}
