package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code surfaced to API callers.
type Code string

const (
	CodeMissingSignature       Code = "MISSING_SIGNATURE"
	CodeInvalidSignatureFormat Code = "INVALID_SIGNATURE_FORMAT"
	CodeInvalidSignature       Code = "INVALID_SIGNATURE"
	CodeTimestampInvalid       Code = "TIMESTAMP_INVALID"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeMalformedPayload       Code = "MALFORMED_PAYLOAD"
	CodeFormNotPublished       Code = "FORM_NOT_PUBLISHED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodePersistenceFailure     Code = "PERSISTENCE_FAILURE"
	CodeInternal               Code = "INTERNAL"

	// Delivery-side codes. Never surfaced to external callers; they end up
	// in delivery rows, logs and dead-letter reasons only.
	CodeDeliveryTimeout    Code = "DELIVERY_TIMEOUT"
	CodeDeliveryHTTPError  Code = "DELIVERY_HTTP_ERROR"
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"
)

// AppError represents an application error
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error code to the status the ingest contract promises.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeMissingSignature, CodeInvalidSignatureFormat, CodeInvalidSignature, CodeTimestampInvalid, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeMalformedPayload:
		return http.StatusBadRequest
	case CodeFormNotPublished, CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource), Err: err}
}

func MalformedPayload(message string, err error) *AppError {
	return &AppError{Code: CodeMalformedPayload, Message: message, Err: err}
}

func Unauthorized(err error) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: "unauthorized", Err: err}
}

func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal server error", Err: err}
}

// AsAppError unwraps err to an *AppError if one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
