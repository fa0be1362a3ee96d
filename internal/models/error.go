package models

import (
	"fmt"
	"time"
)

// ErrorCode is the machine-readable API error code.
type ErrorCode string

const (
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrorCodeConflict       ErrorCode = "CONFLICT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorCodeInternal       ErrorCode = "INTERNAL"
)

// ErrorDetail points at one offending field.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ErrorResponse is the standard API error envelope.
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo carries the error code, message and optional details.
type ErrorInfo struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Details    []ErrorDetail `json:"details,omitempty"`
	RetryAfter int           `json:"retry_after_seconds,omitempty"`
}

// APIError adapts an ErrorResponse to the error interface.
type APIError struct {
	ErrorResponse
}

// Error implements the error interface.
func (e APIError) Error() string {
	return e.ErrorResponse.Error.Message
}

// NewAPIError wraps an ErrorResponse as an error.
func NewAPIError(errResp ErrorResponse) error {
	return &APIError{ErrorResponse: errResp}
}

// NewErrorResponse builds an envelope with just a code and message.
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    string(code),
			Message: message,
		},
	}
}

// NewValidationError builds a field-level validation error.
func NewValidationError(message string, details []ErrorDetail) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    string(ErrorCodeInvalidRequest),
			Message: message,
			Details: details,
		},
	}
}

// NewConflictError builds an idempotency/conflict error.
func NewConflictError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeConflict, message)
}

// NewUnauthorizedError builds an authentication error.
func NewUnauthorizedError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeUnauthorized, message)
}

// NewForbiddenError builds a permission error.
func NewForbiddenError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeForbidden, message)
}

// NewNotFoundError builds a missing-resource error.
func NewNotFoundError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeNotFound, message)
}

// NewRateLimitedError builds a rate-limit error carrying the wait hint.
func NewRateLimitedError(message string, retryAfter time.Duration) ErrorResponse {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return ErrorResponse{
		Error: ErrorInfo{
			Code:       string(ErrorCodeRateLimited),
			Message:    fmt.Sprintf("%s, retry after %ds", message, secs),
			RetryAfter: secs,
		},
	}
}

// NewInternalError builds a server-side error.
func NewInternalError(message string) ErrorResponse {
	return NewErrorResponse(ErrorCodeInternal, message)
}
