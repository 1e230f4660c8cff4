package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure the catalog can surface.
// Handlers map these to HTTP statuses with errors.Is.
var (
	// ErrNotFound indicates the model, revision or dependent record is absent.
	ErrNotFound = errors.New("catalog: not found")
	// ErrValidation indicates malformed metadata or filter input.
	ErrValidation = errors.New("catalog: validation failure")
	// ErrPermissionDenied indicates the policy rejected the actor.
	ErrPermissionDenied = errors.New("catalog: permission denied")
	// ErrPersistence indicates a transaction or file-I/O failure. The
	// operation rolled back and may be retried.
	ErrPersistence = errors.New("catalog: persistence failure")
)

// ServiceError carries an operation.reason code alongside the wrapped cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "catalog.service.new"
	opCreate     = "catalog.create"
	opRevise     = "catalog.revise"
	opEdit       = "catalog.edit"
	opDelete     = "catalog.delete"
	opLookup     = "catalog.lookup"
	opSearch     = "catalog.search"
	opComment    = "catalog.comment"
	opModerate   = "catalog.moderate"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func notFoundError(operation, reason string) error {
	return newServiceError(operation, reason, ErrNotFound)
}

func validationError(operation, reason, detail string) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %s", ErrValidation, detail))
}

func deniedError(operation, reason string) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %s", ErrPermissionDenied, reason))
}

func persistenceError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrPersistence, cause))
}
