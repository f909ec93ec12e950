package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorMapper maps external errors to the triage error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper implements taxonomy mapping for provider and transport errors
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps external errors to taxonomy categories
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	// Already categorized
	if Category(err) != "Unknown" {
		return err
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "invalid json"), strings.Contains(errStr, "malformed json"):
		return fmt.Errorf("invalid model output: %w", ErrValidation)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the taxonomy category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	return Category(err)
}

// Category returns the taxonomy category name for an error
func Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSecurityBlocked):
		return "ErrSecurityBlocked"
	case errors.Is(err, ErrInvalidHistory):
		return "ErrInvalidHistory"
	case errors.Is(err, ErrImageProcessing):
		return "ErrImageProcessing"
	case errors.Is(err, ErrValidation):
		return "ErrValidation"
	case errors.Is(err, ErrToolTimeout):
		return "ErrToolTimeout"
	case errors.Is(err, ErrToolError):
		return "ErrToolError"
	case errors.Is(err, ErrEmptyModelOutput):
		return "ErrEmptyModelOutput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps an error to the fixed boundary status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrSecurityBlocked):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidHistory), errors.Is(err, ErrImageProcessing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrToolTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrToolError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the caller-safe message for an error. Only the typed prefix
// written by the helper constructors is exposed; wrapped causes stay in logs.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "Internal server error"
	}

	var typed *typedError
	if errors.As(err, &typed) {
		return typed.message
	}
	return Category(err)
}

// typedError carries a caller-safe message and the category sentinel.
// The optional cause is kept for logs and errors.Is but never rendered by Detail.
type typedError struct {
	message  string
	category error
	cause    error
}

func (e *typedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.message, e.category, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.message, e.category)
}

func (e *typedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.category, e.cause}
	}
	return []error{e.category}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific category while keeping the cause
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return &typedError{message: message, category: category, cause: err}
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// SecurityBlocked wraps error as security blocked
func SecurityBlocked(message string) error {
	return &typedError{message: message, category: ErrSecurityBlocked}
}

// Validation wraps error as validation failure
func Validation(message string) error {
	return &typedError{message: message, category: ErrValidation}
}

// InvalidHistory wraps error as invalid history format
func InvalidHistory(message string) error {
	return &typedError{message: message, category: ErrInvalidHistory}
}

// ImageProcessing wraps error as image processing failure
func ImageProcessing(message string) error {
	return &typedError{message: message, category: ErrImageProcessing}
}

// ToolError wraps error as tool or provider failure
func ToolError(message string) error {
	return &typedError{message: message, category: ErrToolError}
}

// ToolTimeout wraps error as tool timeout
func ToolTimeout(message string) error {
	return &typedError{message: message, category: ErrToolTimeout}
}

// EmptyModelOutput wraps error as empty model output
func EmptyModelOutput(message string) error {
	return &typedError{message: message, category: ErrEmptyModelOutput}
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable checks if an error is transient, indicating it can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
