package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatProvider   ErrorCategory = "provider"   // A single model call failed
	ErrCatGeneration ErrorCategory = "generation" // A stage produced unusable output
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Client throttled
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	CodeProviderCall       = "PROVIDER_CALL_FAILED"
	CodeProvidersExhausted = "PROVIDERS_EXHAUSTED"
	CodeEmptyGeneration    = "EMPTY_GENERATION"
	CodeMalformedResponse  = "MALFORMED_RESPONSE"
	CodeMissingCredential  = "MISSING_CREDENTIAL"

	CodeEmptyPrompt   = "EMPTY_PROMPT"
	CodeInvalidKind   = "INVALID_KIND"
	CodeInvalidState  = "INVALID_STATE"
	CodeInvalidPath   = "INVALID_PATH"
	CodeFileTooLarge  = "FILE_TOO_LARGE"
	CodeRunNotFound   = "RUN_NOT_FOUND"
	CodeRateLimited   = "RATE_LIMITED"
	CodeStoreFailed   = "STORE_FAILED"
	CodeArchiveFailed = "ARCHIVE_FAILED"
)

// ErrProvider creates an error for a single failed model call. Recoverable
// via chain fallback, so never fatal on its own.
func ErrProvider(model, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      CodeProviderCall,
		Message:   message,
		Retryable: true,
		Details:   map[string]interface{}{"model": model},
	}
}

// ErrProvidersExhausted creates the error returned when every model in a
// chain has failed. Wraps the last provider failure.
func ErrProvidersExhausted(role string, last error) *DomainError {
	return &DomainError{
		Category:  ErrCatProvider,
		Code:      CodeProvidersExhausted,
		Message:   fmt.Sprintf("all models failed for role %s", role),
		Retryable: false,
		Cause:     last,
	}
}

// ErrEmptyGeneration creates the error for a coder pass that produced no
// files.
func ErrEmptyGeneration() *DomainError {
	return &DomainError{
		Category:  ErrCatGeneration,
		Code:      CodeEmptyGeneration,
		Message:   "coder returned no files",
		Retryable: false,
	}
}

// ErrMalformedResponse creates the error for a stage that expected strict
// JSON and could not parse it.
func ErrMalformedResponse(stage string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatGeneration,
		Code:      CodeMalformedResponse,
		Message:   fmt.Sprintf("stage %s returned malformed output", stage),
		Retryable: false,
		Cause:     cause,
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeRunNotFound,
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsCode checks if an error carries a specific domain code.
func IsCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}

// MaxPromptLength is the maximum allowed prompt length.
const MaxPromptLength = 100000
