package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeExternalService   = "EXTERNAL_SERVICE_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeCapacityExhausted = "CAPACITY_EXHAUSTED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidAtomType    = NewDomainError(ErrCodeValidation, "invalid atom type")
	ErrTranscriptTooShort = NewDomainError(ErrCodeValidation, "Transcript too short (minimum 100 characters)")
	ErrMissingUserID      = NewDomainError(ErrCodeValidation, "user id is required")
)

// Not found errors
var (
	ErrAtomNotFound       = NewDomainError(ErrCodeNotFound, "knowledge atom not found")
	ErrTranscriptNotFound = NewDomainError(ErrCodeNotFound, "session transcript not found")
)

// Capacity errors
var (
	ErrCapacityExhausted = NewDomainError(ErrCodeCapacityExhausted, "knowledge store is full: remove or purge atoms to make room")
)

// External service errors
var (
	ErrCompletionFailed = NewDomainError(ErrCodeExternalService, "completion request failed")
	ErrEmbeddingFailed  = NewDomainError(ErrCodeExternalService, "embedding request failed")
)
