// Package errors defines structured error codes for the workflow session
// subsystem. Callers branch on codes rather than matching error strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for workflow operations.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the requested session or key does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeInvalidTransition indicates an event not legal for the current
	// planning session state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeBackendUnavailable indicates the durable backend is unreachable.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrCodeCollaboratorFailed indicates the AI collaborator failed or
	// returned malformed data.
	ErrCodeCollaboratorFailed ErrorCode = "COLLABORATOR_FAILED"
	// ErrCodeSessionConflict indicates the user already owns an active session.
	ErrCodeSessionConflict ErrorCode = "SESSION_CONFLICT"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// WorkflowError represents a structured error for workflow operations.
type WorkflowError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *WorkflowError) WithContext(key string, value interface{}) *WorkflowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *WorkflowError) GetCode() ErrorCode {
	return e.Code
}

// Code extracts the error code from err, or "" if err is not a WorkflowError.
func Code(err error) ErrorCode {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return Code(err) == code
}

// Convenience constructors for common error types.

// NotFound creates a not found error.
func NotFound(msg string) *WorkflowError {
	return &WorkflowError{Code: ErrCodeNotFound, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *WorkflowError {
	return &WorkflowError{Code: ErrCodeInvalidArgument, Message: msg}
}

// InvalidTransition creates an invalid transition error carrying the
// offending state and requested event.
func InvalidTransition(state, event string) *WorkflowError {
	return &WorkflowError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("event %q is not valid in state %q", event, state),
		Context: map[string]interface{}{"state": state, "event": event},
	}
}

// BackendUnavailable creates a backend unavailable error.
func BackendUnavailable(msg string, cause error) *WorkflowError {
	return &WorkflowError{Code: ErrCodeBackendUnavailable, Message: msg, Cause: cause}
}

// CollaboratorFailed creates a collaborator failed error.
func CollaboratorFailed(msg string, cause error) *WorkflowError {
	return &WorkflowError{Code: ErrCodeCollaboratorFailed, Message: msg, Cause: cause}
}

// SessionConflict creates a session conflict error.
func SessionConflict(userID string) *WorkflowError {
	return &WorkflowError{
		Code:    ErrCodeSessionConflict,
		Message: fmt.Sprintf("user %s already has an active planning session", userID),
	}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *WorkflowError {
	return &WorkflowError{Code: ErrCodeTimeout, Message: msg, Cause: cause}
}
