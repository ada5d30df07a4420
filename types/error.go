package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Policy violation codes. These terminate a single run with a failed
// step result and are never retried automatically.
const (
	ErrActionTypeBlocked   ErrorCode = "ACTION_TYPE_BLOCKED"
	ErrConnectorBlocked    ErrorCode = "CONNECTOR_BLOCKED"
	ErrConnectorNotAllowed ErrorCode = "CONNECTOR_NOT_ALLOWED"
	ErrBudgetExceeded      ErrorCode = "BUDGET_EXCEEDED"
)

// Graph integrity codes. Programming/planning invariant violations,
// raised immediately and never worked around.
const (
	ErrGraphCycle        ErrorCode = "GRAPH_CYCLE"
	ErrGraphDisconnected ErrorCode = "GRAPH_DISCONNECTED"
)

// Supervision codes for background runs.
const (
	ErrRunTimeout    ErrorCode = "RUN_TIMEOUT"
	ErrRunStalled    ErrorCode = "RUN_STALLED"
	ErrWorkerFailure ErrorCode = "WORKER_FAILURE"
)

// Lookup and state codes.
const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the error code from err, walking the wrap chain.
// Returns ErrInternalError for plain errors.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if te, ok := err.(*Error); ok {
			return te.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrInternalError
}
