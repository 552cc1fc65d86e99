// Package errs defines the error taxonomy shared across the service.
// Callers branch on these with errors.Is / errors.As instead of matching
// message text.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any write happened.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced student, session or record that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreTransient marks a retryable store fault. The repositories
	// retry these internally before surfacing them.
	ErrStoreTransient = errors.New("transient store error")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// ExternalKind classifies reasoning-service failures so the orchestrator
// and summarizer branch on a stable tag rather than vendor error text.
type ExternalKind string

const (
	ExternalContextTooLarge      ExternalKind = "context_too_large"
	ExternalUnsupportedParameter ExternalKind = "unsupported_parameter"
	ExternalTimeout              ExternalKind = "timeout"
	ExternalFailure              ExternalKind = "failure"
)

// ExternalServiceError is a failed or timed-out reasoning-service call,
// tagged with whether a reduced-context retry was already attempted.
type ExternalServiceError struct {
	Kind           ExternalKind
	RetryAttempted bool
	Err            error
}

func (e *ExternalServiceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reasoning service: %s", e.Kind)
	}
	return fmt.Sprintf("reasoning service: %s: %v", e.Kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsContextTooLarge reports whether err is an ExternalServiceError tagged
// as a context-length failure.
func IsContextTooLarge(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Kind == ExternalContextTooLarge
}

// IsUnsupportedParameter reports whether err is an ExternalServiceError
// tagged as an unsupported-parameter rejection.
func IsUnsupportedParameter(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Kind == ExternalUnsupportedParameter
}
