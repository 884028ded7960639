package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidObservation ErrorCode = "validation_invalid_observation"
	ErrCodeValidationInvalidTimestamp   ErrorCode = "validation_invalid_timestamp"
	ErrCodeValidationInvalidAQI         ErrorCode = "validation_invalid_aqi"
	ErrCodeValidationInvalidHumidity    ErrorCode = "validation_invalid_humidity"
	ErrCodeValidationInvalidRange       ErrorCode = "validation_invalid_time_range"
	ErrCodeValidationInvalidAnchor      ErrorCode = "validation_invalid_anchor_index"
	ErrCodeValidationMissingField       ErrorCode = "validation_missing_required_field"
	ErrCodeValidationMalformedBody      ErrorCode = "validation_malformed_body"

	// Forecasting / training (422)
	ErrCodeInsufficientHistory      ErrorCode = "forecast_insufficient_history"
	ErrCodeInsufficientTrainingData ErrorCode = "training_insufficient_data"

	// Not Found (404)
	ErrCodeNotFoundForecast ErrorCode = "not_found_forecast"
	ErrCodeNotFoundArtifact ErrorCode = "not_found_artifact"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeInternalSchemaMismatch  ErrorCode = "internal_schema_mismatch"
	ErrCodeInternalArtifactCorrupt ErrorCode = "internal_artifact_corrupt"

	ErrCodeUpstreamNotifierDelivery ErrorCode = "upstream_notifier_delivery_failed"
	ErrCodeUpstreamArtifactStore    ErrorCode = "upstream_artifact_store_unavailable"
	ErrCodeUpstreamEmailProvider    ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamQueue            ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamUnavailable      ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited      ErrorCode = "upstream_rate_limited"

	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "forecast_"), strings.HasPrefix(s, "training_"):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
