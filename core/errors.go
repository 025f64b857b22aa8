package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These form the closed error taxonomy used across component boundaries.
var (
	// Input errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")

	// Lookup errors
	ErrNotFound     = errors.New("not found")
	ErrUserNotFound = errors.New("user not found")

	// Access errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")

	// Upstream errors
	ErrProvider = errors.New("provider error")
	ErrTimeout  = errors.New("operation timeout")
	ErrNetwork  = errors.New("network error")

	// System errors
	ErrInternal      = errors.New("internal error")
	ErrConfiguration = errors.New("configuration error")

	// State errors
	ErrAlreadyStarted     = errors.New("already started")
	ErrNotInitialized     = errors.New("not initialized")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrLockNotAcquired    = errors.New("lock not acquired")
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string                 // Operation that failed (e.g., "shield.Evaluate")
	Code    string                 // Stable machine code (e.g., "PROVIDER_ERROR")
	Message string                 // Human-readable message
	Context map[string]interface{} // Optional structured context
	Err     error                  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Code)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op, code string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// ErrorCode maps an error to its stable taxonomy code. Unknown errors
// map to INTERNAL_ERROR so technical detail never leaks to callers.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrProvider):
		return "PROVIDER_ERROR"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrNetwork):
		return "NETWORK_ERROR"
	case errors.Is(err, ErrConfiguration):
		return "CONFIGURATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrProvider) ||
		errors.Is(err, ErrRateLimited)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrValidation)
}
