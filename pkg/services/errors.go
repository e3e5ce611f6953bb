// Package services provides the business logic layer between the HTTP API
// and saga persistence, with standardized error types for API mapping.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidStatus           = errors.New("invalid saga status")
	ErrDefinitionNameRequired  = errors.New("definition name is required")
	ErrDefinitionNotRegistered = errors.New("saga definition not registered")
	ErrInvalidInitialContext   = errors.New("initial context rejected by definition schema")

	// Business logic conflicts (409 Conflict).
	ErrSagaFinished = errors.New("saga already reached a terminal status")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrDefinitionNameRequired) ||
		errors.Is(err, ErrDefinitionNotRegistered) ||
		errors.Is(err, ErrInvalidInitialContext)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSagaFinished)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
