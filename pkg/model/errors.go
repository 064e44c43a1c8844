package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConstraintViolation is a broken value invariant, never partially applied
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidEnumeration is a value outside a fixed set, also a constraint violation
	ErrInvalidEnumeration = fmt.Errorf("%w: invalid enumeration", ErrConstraintViolation)
	// ErrReferenceNotFound means the parent row must be resolved or created first
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrNotFound is an update or lookup of an unknown id
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable is an I/O failure, the only class worth retrying
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Violation builds an ErrConstraintViolation with a description
func Violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

// Unavailable wraps an I/O error as ErrStorageUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitConstraint = 2
	ExitStorage    = 3
)

// ExitCode maps an error to the process exit code of the command line tools
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrReferenceNotFound):
		return ExitConstraint
	case errors.Is(err, ErrStorageUnavailable):
		return ExitStorage
	default:
		return ExitFailure
	}
}
