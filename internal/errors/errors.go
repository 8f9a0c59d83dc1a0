// Package errors implements the orchestrator's tagged error-kind sum
// type. Every error kind a component can surface maps onto exactly one
// of these six kinds (see SPEC_FULL.md §7 / §9's "error hierarchies"
// design note): a throttled model, a failed validation, a transient
// store failure, a fatal programmer error, a cancelled/timed-out task,
// or a truncated tool-call loop.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType tags an AppError with one of the six kinds this system
// distinguishes.
type ErrorType string

const (
	// ErrorTypeThrottled marks an LLM provider quota/rate-limit error.
	// The Model Gateway handles these by falling back to the next
	// candidate model; they only surface as ErrorTypeThrottled once the
	// whole fallback chain is exhausted.
	ErrorTypeThrottled ErrorType = "throttled"
	// ErrorTypeValidation marks a schema, FlightInfo, or proposal
	// validation failure. Never retried.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTransient marks a store failure that persisted past the
	// retry budget, a call rejected by an open circuit breaker, or a
	// model provider error other than throttling.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeFatal marks a programmer error (unknown agent-id, unknown
	// index, malformed tool manifest) that must abort the orchestration.
	ErrorTypeFatal ErrorType = "fatal"
	// ErrorTypeCancelled marks a task that hit its deadline or was
	// cancelled by a parent scope.
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeTruncated marks a tool-call loop that reached
	// max_iterations without a final answer.
	ErrorTypeTruncated ErrorType = "truncated"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeThrottled:  http.StatusTooManyRequests,
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeTransient:  http.StatusServiceUnavailable,
	ErrorTypeFatal:      http.StatusInternalServerError,
	ErrorTypeCancelled:  499, // client/caller closed the request (nginx convention)
	ErrorTypeTruncated:  http.StatusPartialContent,
}

// AppError is a structured error carrying a kind, a message, optional
// free-form details, an HTTP-status-like code (used only for audit-trail
// categorization and the reference cmd/ HTTP adapter, never for an actual
// response from the core engine), and an optional wrapped cause.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError of the given type with its status code filled
// in from the standard mapping.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf creates an AppError of the given type wrapping cause with a
// formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches free-form details and returns the same error
// (mutates in place, mirroring the builder style used throughout this
// module's fluent helpers).
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted details.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// NewValidationError builds an ErrorTypeValidation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewThrottledError builds an ErrorTypeThrottled AppError for a model
// whose entire fallback chain was exhausted.
func NewThrottledError(modelID string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeThrottled, "all models unavailable, last tried: %s", modelID)
}

// NewProviderThrottledError builds an ErrorTypeThrottled AppError for a
// single ModelProvider's own rate-limit/quota response, before any
// fallback has been attempted. resilience.Chain.Run inspects this type
// (via IsType) to decide whether to try the next candidate or propagate
// immediately; NewThrottledError is reserved for the terminal,
// chain-exhausted case.
func NewProviderThrottledError(providerID string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeThrottled, "provider %s reported throttling", providerID)
}

// NewTransientError builds an ErrorTypeTransient AppError for a store
// operation that exhausted its retry budget.
func NewTransientError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeTransient, "store operation failed after retries: %s", operation)
}

// NewFatalError builds an ErrorTypeFatal AppError for a programmer
// error.
func NewFatalError(message string) *AppError {
	return New(ErrorTypeFatal, message)
}

// NewCancelledError builds an ErrorTypeCancelled AppError for a task
// that hit its deadline.
func NewCancelledError(operation string) *AppError {
	return New(ErrorTypeCancelled, fmt.Sprintf("cancelled: %s", operation))
}

// NewTruncatedError builds an ErrorTypeTruncated AppError/marker for a
// tool-call loop that reached max_iterations.
func NewTruncatedError(message string) *AppError {
	return New(ErrorTypeTruncated, fmt.Sprintf("truncated after max iterations: %s", message))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if as, ok := err.(*AppError); ok {
		appErr = as
	} else {
		return false
	}
	return appErr.Type == t
}

// GetType returns err's ErrorType, or ErrorTypeFatal if err is not an
// *AppError (an un-tagged error reaching the top level is itself a
// programmer-error signal).
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeFatal
}

// GetStatusCode returns err's mapped status code, or 500 if err is not
// an *AppError.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// SafeMessages holds the caller-facing messages substituted for
// internal details on kinds that should not leak causes externally.
var SafeMessages = struct {
	Throttled string
	Transient string
	Fatal     string
	Cancelled string
	Truncated string
}{
	Throttled: "the recovery model is temporarily unavailable",
	Transient: "the operational data store is temporarily unavailable",
	Fatal:     "an internal error occurred",
	Cancelled: "the operation was cancelled before completion",
	Truncated: "the operation reached its iteration limit without a final answer",
}

// SafeErrorMessage returns a message suitable for an external caller:
// validation messages are passed through verbatim (they describe the
// caller's own input), every other AppError kind is replaced by a fixed
// safe message, and a non-AppError is replaced by a generic message.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "an unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeThrottled:
		return SafeMessages.Throttled
	case ErrorTypeTransient:
		return SafeMessages.Transient
	case ErrorTypeCancelled:
		return SafeMessages.Cancelled
	case ErrorTypeTruncated:
		return SafeMessages.Truncated
	default:
		return SafeMessages.Fatal
	}
}

// LogFields returns structured logging fields for err, suitable for
// logrus.WithFields.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins zero or more non-nil errors with " -> ", returning nil if
// none are non-nil and the error itself (not a wrapping chain) if
// exactly one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msg := nonNil[0].Error()
	for _, e := range nonNil[1:] {
		msg += " -> " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
