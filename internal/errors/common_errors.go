package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeUnsupportedFormat ErrorType = "UNSUPPORTED_FORMAT"
	ErrTypeCorruptArchive    ErrorType = "CORRUPT_ARCHIVE"
	ErrTypeMalformedRecord   ErrorType = "MALFORMED_RECORD"
	ErrTypeOrphanedUpdate    ErrorType = "ORPHANED_UPDATE"
	ErrTypeNotFound          ErrorType = "NOT_FOUND"
	ErrTypeValidation        ErrorType = "VALIDATION"
	ErrTypeStorage           ErrorType = "STORAGE"
	ErrTypeConfig            ErrorType = "CONFIG"
)

// Sentinels for errors.Is. Any *AppError of the same type matches.
var (
	ErrUnsupportedFormat = &AppError{Type: ErrTypeUnsupportedFormat, Message: "unsupported format"}
	ErrCorruptArchive    = &AppError{Type: ErrTypeCorruptArchive, Message: "corrupt archive"}
	ErrMalformedRecord   = &AppError{Type: ErrTypeMalformedRecord, Message: "malformed record"}
	ErrOrphanedUpdate    = &AppError{Type: ErrTypeOrphanedUpdate, Message: "orphaned update"}
	ErrNotFound          = &AppError{Type: ErrTypeNotFound, Message: "not found"}
	ErrValidation        = &AppError{Type: ErrTypeValidation, Message: "validation failed"}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError of the same type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// TypeOf returns the ErrorType of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// NewUnsupportedFormatError reports an unknown archive envelope or export encoding.
func NewUnsupportedFormatError(subject, format string) *AppError {
	return NewAppError(ErrTypeUnsupportedFormat,
		fmt.Sprintf("unsupported format %q for %s", format, subject), nil).
		WithContext("format", format)
}

// NewCorruptArchiveError reports an extraction failure in the middle of a stream.
func NewCorruptArchiveError(name string, cause error) *AppError {
	return NewAppError(ErrTypeCorruptArchive, fmt.Sprintf("failed to extract %s", name), cause).
		WithContext("file", name)
}

// NewMalformedRecordError reports a single undecodable line.
func NewMalformedRecordError(line int, cause error) *AppError {
	return NewAppError(ErrTypeMalformedRecord, fmt.Sprintf("line %d is not a valid record", line), cause).
		WithContext("line", line)
}

// NewOrphanedUpdateError reports a change for a market with no prior definition.
func NewOrphanedUpdateError(marketID string) *AppError {
	return NewAppError(ErrTypeOrphanedUpdate,
		fmt.Sprintf("change for market %s precedes its definition", marketID), nil).
		WithContext("market_id", marketID)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}
