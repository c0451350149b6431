// Package domain provides the canonical types and error taxonomy for the gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of a gateway error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request body.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeUnauthenticated indicates a missing or malformed credential.
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"

	// ErrorTypeRejected indicates a credential that was presented but judged invalid.
	ErrorTypeRejected ErrorType = "rejected"

	// ErrorTypeAuthUnavailable indicates the remote verifier could not be reached.
	// An unreachable verifier says nothing about the credential itself, so this
	// is never folded into ErrorTypeRejected.
	ErrorTypeAuthUnavailable ErrorType = "auth_unavailable"

	// ErrorTypeMisconfigured indicates a deployment problem, such as
	// static-secret mode running with no secret configured.
	ErrorTypeMisconfigured ErrorType = "misconfigured"

	// ErrorTypeThrottled indicates the per-client rate limit was exceeded.
	ErrorTypeThrottled ErrorType = "throttled"

	// ErrorTypeNotFound indicates an unknown client id.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeUpstream indicates the completion provider returned an error
	// or a malformed response.
	ErrorTypeUpstream ErrorType = "upstream_error"

	// ErrorTypeUpstreamUnavailable indicates a network failure or timeout
	// talking to the completion provider.
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"

	// ErrorTypeServer indicates an uncategorized internal failure.
	ErrorTypeServer ErrorType = "server"
)

// APIError is the single error shape resolved at the pipeline boundary.
// Every failure in the gating pipeline maps to exactly one of these.
type APIError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode overrides the default HTTP status for the type when non-zero.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnauthenticated, ErrorTypeRejected:
		return http.StatusUnauthorized
	case ErrorTypeAuthUnavailable, ErrorTypeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeThrottled:
		return http.StatusTooManyRequests
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeMisconfigured, ErrorTypeUpstream, ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new gateway error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors for the taxonomy.

// ErrInvalidRequest creates an error for a malformed request body.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrUnauthenticated creates an error for a missing or malformed credential.
func ErrUnauthenticated(message string) *APIError {
	return NewAPIError(ErrorTypeUnauthenticated, message)
}

// ErrRejected creates an error for an invalid or expired credential.
func ErrRejected(message string) *APIError {
	return NewAPIError(ErrorTypeRejected, message)
}

// ErrAuthUnavailable creates an error for an unreachable verifier.
func ErrAuthUnavailable(message string) *APIError {
	return NewAPIError(ErrorTypeAuthUnavailable, message)
}

// ErrMisconfigured creates an error for a deployment misconfiguration.
func ErrMisconfigured(message string) *APIError {
	return NewAPIError(ErrorTypeMisconfigured, message)
}

// ErrThrottled creates a rate limit error with a retry hint.
func ErrThrottled(message string) *APIError {
	return NewAPIError(ErrorTypeThrottled, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrUpstream creates an error for an upstream provider failure.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message)
}

// ErrUpstreamUnavailable creates an error for an unreachable upstream provider.
func ErrUpstreamUnavailable(message string) *APIError {
	return NewAPIError(ErrorTypeUpstreamUnavailable, message)
}

// ErrServer creates a generic internal error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// AsAPIError normalizes any error into an APIError. Errors that are already
// categorized pass through unchanged; everything else becomes a generic
// server error so callers never observe a raw transport or library failure.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrServer(err.Error())
}
