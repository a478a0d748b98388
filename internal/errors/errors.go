package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors, rejected before or by the backend
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidLink     = "INVALID_LINK"

	// Resource specific
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeSegmentNotFound = "SEGMENT_NOT_FOUND"
	CodeNoHighlights    = "NO_HIGHLIGHTS"

	// Local failures
	CodeInternalError = "INTERNAL_ERROR"
	CodeSettingsError = "SETTINGS_ERROR"
	CodeStorageError  = "STORAGE_ERROR"

	// Backend errors
	CodeBackendError    = "BACKEND_ERROR"
	CodeExternalTimeout = "EXTERNAL_TIMEOUT"
	CodeUnavailable     = "BACKEND_UNAVAILABLE"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

func InvalidLink(message string) *AppError {
	return New(CodeInvalidLink, message, CategoryClient, http.StatusBadRequest)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, CategoryClient, http.StatusUnauthorized)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func JobNotFound(jobID string) *AppError {
	return New(CodeJobNotFound, fmt.Sprintf("job %s not found", jobID), CategoryClient, http.StatusNotFound)
}

func SegmentNotFound(segmentID string) *AppError {
	return New(CodeSegmentNotFound, fmt.Sprintf("segment %s not found", segmentID), CategoryClient, http.StatusNotFound)
}

func NoHighlights(jobID string) *AppError {
	return New(CodeNoHighlights, fmt.Sprintf("no highlights available for job %s", jobID), CategoryClient, http.StatusConflict)
}

// Local error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func SettingsError(message string) *AppError {
	return New(CodeSettingsError, message, CategoryServer, http.StatusInternalServerError)
}

func StorageError(message string) *AppError {
	return New(CodeStorageError, message, CategoryExternal, http.StatusBadGateway)
}

// Backend error constructors

func BackendError(message string) *AppError {
	return New(CodeBackendError, message, CategoryExternal, http.StatusBadGateway)
}

func BackendUnavailable(message string) *AppError {
	return New(CodeUnavailable, message, CategoryExternal, http.StatusServiceUnavailable)
}

func ExternalTimeout(service string) *AppError {
	return New(CodeExternalTimeout, fmt.Sprintf("%s request timed out", service), CategoryExternal, http.StatusGatewayTimeout)
}

// FromStatus maps a backend HTTP status to an AppError
func FromStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusNotFound:
		return New(CodeNotFound, message, CategoryClient, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(CodeUnauthorized, message, CategoryClient, status)
	case status == http.StatusTooManyRequests:
		return New(CodeUnavailable, message, CategoryExternal, status)
	case status >= 400 && status < 500:
		return New(CodeInvalidRequest, message, CategoryClient, status)
	default:
		return New(CodeBackendError, message, CategoryExternal, status)
	}
}

// As unwraps err into an *AppError if one is in its chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}

	// External service errors are typically retryable
	if appErr.Category == CategoryExternal {
		return true
	}

	// Local failures are not fixed by trying again
	return false
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsNotFound returns true for any not-found code
func IsNotFound(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.HTTPStatus == http.StatusNotFound
}

// IsExternalError returns true if the error is an external service error
func IsExternalError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Category == CategoryExternal
}
