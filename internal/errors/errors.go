// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors
type ErrorType string

const (
	// ErrorTypeValidation covers malformed requests and generation
	// output that fails the strict shape check.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypePrecondition covers rejected structural operations,
	// such as deleting a story's last scene.
	ErrorTypePrecondition ErrorType = "precondition_failed"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeLLM          ErrorType = "llm_error"
	ErrorTypeStorage      ErrorType = "storage_error"
	ErrorTypeInternal     ErrorType = "internal_error"
)

// AppError carries a classified error through the service layers
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a classified error
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError reports malformed input or generation output
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewPreconditionError reports a rejected structural operation; the
// caller receives its input unchanged.
func NewPreconditionError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypePrecondition, message, originalError)
}

// NewNotFoundError reports a missing entity
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewConflictError reports a state conflict, such as a generation
// already running for the same project.
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewLLMError reports a provider failure
func NewLLMError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeLLM, message, originalError)
}

// NewStorageError reports a persistence failure
func NewStorageError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeStorage, message, originalError)
}

// NewInternalError reports an unexpected failure
func NewInternalError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInternal, message, originalError)
}

// IsValidationError checks for a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsPreconditionError checks for a rejected structural operation
func IsPreconditionError(err error) bool {
	return hasType(err, ErrorTypePrecondition)
}

// IsNotFoundError checks for a missing entity error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConflictError checks for a state conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsLLMError checks for a provider failure
func IsLLMError(err error) bool {
	return hasType(err, ErrorTypeLLM)
}

func hasType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypePrecondition:
		return "PRECONDITION_FAILED"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeLLM:
		return "LLM_ERROR"
	case ErrorTypeStorage:
		return "STORAGE_ERROR"
	case ErrorTypeInternal:
		return "INTERNAL_ERROR"
	}
	return "UNKNOWN_ERROR"
}

// WrapError wraps an existing error, preserving an AppError's type
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
