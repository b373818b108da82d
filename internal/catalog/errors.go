package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a missing or unparseable input.
	ErrValidation = errors.New("catalog: validation failed")
	// ErrNotFound indicates an unknown chart name.
	ErrNotFound = errors.New("catalog: chart not found")
	// ErrUnauthorized indicates a mutation attempted by a non-permitted viewer.
	ErrUnauthorized = errors.New("catalog: not permitted")
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

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
