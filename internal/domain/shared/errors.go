// Package shared contains common domain errors used across the progression,
// habit, goal and integrity packages. It has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds, checked with errors.Is().
var (
	// ErrNotFound means a required entity is missing.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation means a record does not satisfy its schema.
	ErrValidation = errors.New("validation error")

	// ErrInvalidInput means a caller-supplied argument is unusable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage is a transient I/O failure against the backing store.
	ErrStorage = errors.New("storage error")

	// ErrConcurrentModification is an optimistic lock conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAlreadyProcessed is returned for a request id that was already applied.
	ErrAlreadyProcessed = errors.New("already processed")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "character", "habit", "integrity"
	Op      string // Operation that failed, e.g., "Load", "Update"
	Kind    error  // Base error kind for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NotFound builds a NotFound error for the given entity.
func NotFound(domain, id string) *DomainError {
	return NewDomainError(domain, "Find", ErrNotFound, fmt.Sprintf("%s %q not found", domain, id))
}

// Storage wraps a transient store failure.
func Storage(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrStorage, "storage failure", err)
}

// Invalid builds a validation error for a record field.
func Invalid(domain, field, message string) *DomainError {
	return NewDomainError(domain, "Validate", ErrValidation, field+": "+message)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidInput)
}

// IsStorage checks if the error is a storage error.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrConcurrentModification)
}
