package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Category tags an error with the way the pipeline must react to it.
// Retry and terminal-state decisions dispatch on the category, never on
// message text.
type Category string

const (
	// CategoryCapacity means the queue is at its size limit; surfaced
	// synchronously to the caller of AddItem.
	CategoryCapacity Category = "capacity"

	// CategoryCancelled means cooperative cancellation was observed.
	// Terminal, never retried.
	CategoryCancelled Category = "cancelled"

	// CategoryPauseTimeout means a pause exceeded its allowed duration.
	// Treated as a cancellation.
	CategoryPauseTimeout Category = "pause_timeout"

	// CategoryTransient means a connection/IO failure during streaming.
	// Retried with backoff up to the configured limit.
	CategoryTransient Category = "transient"

	// CategoryExtraction means the external extractor failed for reasons
	// unrelated to cancellation. Not retried by the pipeline.
	CategoryExtraction Category = "extraction"

	// CategoryClient means invalid caller input (bad request, unknown id).
	CategoryClient Category = "client"

	// CategoryFatal is everything else: terminal, not retried.
	CategoryFatal Category = "fatal"
)

// Common error codes
const (
	CodeQueueFull       = "QUEUE_FULL"
	CodeCancelled       = "CANCELLED"
	CodePauseTimeout    = "PAUSE_TIMEOUT"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeExtractionError = "EXTRACTION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeItemNotFound    = "ITEM_NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   Category       `json:"-"`
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

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code, message string, category Category, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Constructors

func QueueFull(limit int) *AppError {
	return New(CodeQueueFull, fmt.Sprintf("queue is at its maximum size (%d)", limit),
		CategoryCapacity, http.StatusTooManyRequests)
}

func Cancelled() *AppError {
	return New(CodeCancelled, "download cancelled", CategoryCancelled, http.StatusConflict)
}

func PauseTimeout(message string) *AppError {
	return New(CodePauseTimeout, message, CategoryPauseTimeout, http.StatusConflict)
}

func Transient(message string) *AppError {
	return New(CodeNetworkError, message, CategoryTransient, http.StatusBadGateway)
}

func Extraction(message string) *AppError {
	return New(CodeExtractionError, message, CategoryExtraction, http.StatusBadGateway)
}

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func ItemNotFound(id string) *AppError {
	return New(CodeItemNotFound, fmt.Sprintf("download item %s not found", id),
		CategoryClient, http.StatusNotFound)
}

func Internal(message string) *AppError {
	return New(CodeInternalError, message, CategoryFatal, http.StatusInternalServerError)
}

// CategoryOf returns the category of an error, CategoryFatal for errors
// that carry no explicit tag.
func CategoryOf(err error) Category {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Category
	}
	return CategoryFatal
}

// IsCancelled reports whether the error means user-initiated cancellation,
// including a pause that timed out.
func IsCancelled(err error) bool {
	c := CategoryOf(err)
	return c == CategoryCancelled || c == CategoryPauseTimeout
}

// IsCapacity reports whether the error is a queue capacity rejection.
func IsCapacity(err error) bool {
	return CategoryOf(err) == CategoryCapacity
}

// IsTransient reports whether the error is a retryable network/IO failure.
// Untagged errors are inspected: net.Error, url.Error, connection-level
// syscall errors and truncated reads count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Category == CategoryTransient
	}

	// Context cancellation is cooperative cancellation, never transient.
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) {
		return true
	}

	return false
}

// WrapTransient tags an untyped network error as transient, preserving it
// as the cause so callers can still unwrap the original.
func WrapTransient(err error) *AppError {
	return Transient(err.Error()).WithCause(err)
}

// ErrorResponse is the JSON structure returned to HTTP clients
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = Internal("an unexpected error occurred").WithCause(err)
	}

	resp := ErrorResponse{
		Error: ErrorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// HTTPRetryableStatus returns true if the HTTP status code is retryable
func HTTPRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// MessageOf flattens an error for storage on an item; empty for nil.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
