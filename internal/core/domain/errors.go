// Package domain provides the hub's records and its canonical error type.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/heremaps/xyz-hub-sub003/internal/modify"
	"github.com/heremaps/xyz-hub-sub003/internal/pipeline"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeAuthentication indicates a missing or unknown API key.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeForbidden indicates the caller may not access the resource.
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict indicates a policy refused the modification.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeVersionConflict indicates a stale version was presented.
	ErrorTypeVersionConflict ErrorType = "version_conflict"

	// ErrorTypeTooManyRequests indicates the request was throttled.
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"

	// ErrorTypeCancelled indicates the client went away before completion.
	ErrorTypeCancelled ErrorType = "cancelled"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// StatusClientClosedRequest is the non-standard status used for requests the
// client abandoned.
const StatusClientClosedRequest = 499

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeInvalidAPIKey    ErrorCode = "invalid_api_key"
	ErrorCodeSpaceNotFound    ErrorCode = "space_not_found"
	ErrorCodeFeatureNotFound  ErrorCode = "feature_not_found"
	ErrorCodeMaxFeatures      ErrorCode = "max_features_exceeded"
	ErrorCodeReadOnly         ErrorCode = "space_read_only"
	ErrorCodeRequestTooLarge  ErrorCode = "request_too_large"
	ErrorCodeMemoryExhausted  ErrorCode = "request_memory_exhausted"
	ErrorCodeInvalidPolicy    ErrorCode = "invalid_policy"
	ErrorCodeDuplicateID      ErrorCode = "duplicate_id"
	ErrorCodeModifyNotAllowed ErrorCode = "modification_refused"
)

// ErrRecordNotFound is returned by stores when a record does not exist.
var ErrRecordNotFound = errors.New("record not found")

// APIError is the error reported to HTTP clients.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the error the APIError was derived from, if any.
func (e *APIError) Unwrap() error { return e.cause }

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict, ErrorTypeVersionConflict:
		return http.StatusConflict
	case ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrorTypeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrForbidden creates a forbidden error.
func ErrForbidden(message string) *APIError {
	return NewAPIError(ErrorTypeForbidden, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrConflict creates a conflict error.
func ErrConflict(message string) *APIError {
	return NewAPIError(ErrorTypeConflict, message)
}

// ErrTooManyRequests creates a throttling error.
func ErrTooManyRequests(message string) *APIError {
	return NewAPIError(ErrorTypeTooManyRequests, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// FromError classifies err as an APIError. Errors that are already an
// APIError are returned as they are; anything unknown becomes a server error.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var validation *modify.ValidationError
	var policy *modify.Error
	switch {
	case pipeline.IsCancelled(err), errors.Is(err, context.Canceled):
		return NewAPIError(ErrorTypeCancelled, "the request was cancelled").WithCause(err)
	case errors.As(err, &validation):
		return ErrInvalidRequest(validation.Message).WithParam(validation.Field).WithCause(err)
	case modify.IsVersionConflict(err):
		return NewAPIError(ErrorTypeVersionConflict, err.Error()).WithCause(err)
	case errors.As(err, &policy):
		return ErrConflict(policy.Error()).WithCode(ErrorCodeModifyNotAllowed).WithCause(err)
	case errors.Is(err, ErrRecordNotFound):
		return ErrNotFound(err.Error()).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrServer("the request timed out").WithStatusCode(http.StatusGatewayTimeout).WithCause(err)
	default:
		return ErrServer(err.Error()).WithCause(err)
	}
}
