package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"aqiwatch/internal/types"
)

// maxRequestBodySize caps decoded request bodies.
const maxRequestBodySize = 1 << 20

// APIResponse is the success envelope.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the error envelope.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes data with status. A marshalling failure becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = writeErrorJSON(w, string(types.ErrCodeInternalUnexpected),
			"failed to marshal response", types.GetRequestID(r.Context()))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an error envelope. AppErrors keep their code, message
// and details; anything else is reported as a generic 500 without leaking
// the underlying message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{RequestID: types.GetRequestID(r.Context())}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{Error: detail})
		return
	}

	detail.Code = string(types.ErrCodeInternalUnexpected)
	detail.Message = "an unexpected error occurred"
	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{Error: detail})
}

// DecodeJSON strictly decodes a single JSON object from the body. Failures
// are returned as validation_malformed_body errors.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return malformed("request body must contain a single JSON object", nil)
	}
	return nil
}

func malformed(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationMalformedBody, msg, err)
}

func mapDecodeError(err error) *types.AppError {
	var (
		maxBytesErr *http.MaxBytesError
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return malformed("request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return malformed("malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMalformedBody,
			"invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return malformed("unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return malformed("request body must not be empty", err)
	default:
		return malformed("invalid JSON in request body", err)
	}
}
