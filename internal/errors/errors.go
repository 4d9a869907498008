// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used across the credit layer.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// ServiceError is an error with a stable code and an HTTP status. Handlers
// return the Message to clients; the wrapped cause stays server-side.
type ServiceError struct {
	Code       string
	Message    string
	HTTPStatus int
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *ServiceError) Unwrap() error { return e.cause }

// Is matches service errors by code so sentinel-style comparisons work.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if stderrors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// WithCause attaches an underlying error without changing the client-facing
// message.
func (e *ServiceError) WithCause(err error) *ServiceError {
	return &ServiceError{Code: e.Code, Message: e.Message, HTTPStatus: e.HTTPStatus, cause: err}
}

// Unauthorized covers bad API keys, bad signatures and stale nonces.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// NotFound covers unknown users.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// InsufficientCredits is the business-rule refusal for over-debits.
func InsufficientCredits(available, requested int) *ServiceError {
	return &ServiceError{
		Code:       CodeInsufficientCredits,
		Message:    fmt.Sprintf("insufficient credits: available %d, requested %d", available, requested),
		HTTPStatus: http.StatusPaymentRequired,
	}
}

// InvalidRequest covers malformed payloads and out-of-range values.
func InvalidRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeInvalidRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// RateLimited is returned when a caller exceeds the request budget.
func RateLimited() *ServiceError {
	return &ServiceError{Code: CodeRateLimited, Message: "rate limit exceeded", HTTPStatus: http.StatusTooManyRequests}
}

// Unavailable covers pool exhaustion and connection failures; callers may
// retry with backoff.
func Unavailable(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodeUnavailable, Message: message, HTTPStatus: http.StatusServiceUnavailable, cause: cause}
}

// Internal covers everything unexpected. The cause is logged, never emitted.
func Internal(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, cause: cause}
}

// GetServiceError extracts a ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}
