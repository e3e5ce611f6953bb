// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrSagaNotFound indicates no instance exists for the given saga ID.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaAlreadyExists indicates an instance with the same ID already
	// exists.
	ErrSagaAlreadyExists = errors.New("saga already exists")

	// ErrVersionConflict indicates the compare-and-set update lost: the
	// stored version no longer matches the version the caller loaded.
	ErrVersionConflict = errors.New("saga version conflict")

	// ErrInvalidSagaStatus indicates an unknown status value was provided.
	ErrInvalidSagaStatus = errors.New("invalid saga status")
)

// SagaError wraps saga persistence errors with operation context.
type SagaError struct {
	Op      string // Operation being performed (e.g., "GetByID", "Update")
	SagaID  string
	Err     error
	Message string
}

func (e *SagaError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for saga %s: %s (%v)", e.Op, e.SagaID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for saga %s: %v", e.Op, e.SagaID, e.Err)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

func (e *SagaError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSagaError creates a new saga persistence error with context.
func NewSagaError(op, sagaID string, err error) *SagaError {
	return &SagaError{
		Op:     op,
		SagaID: sagaID,
		Err:    err,
	}
}

// IsSagaNotFound checks if an error indicates a missing saga instance.
func IsSagaNotFound(err error) bool {
	return errors.Is(err, ErrSagaNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-set.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
