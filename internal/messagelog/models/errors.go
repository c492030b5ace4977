package models

import (
	"errors"
	"fmt"
)

// ErrCannotTimestamp is the policy violation raised when logging must be refused.
var ErrCannotTimestamp = errors.New("cannot time-stamp messages")

// ErrConfiguration marks malformed or missing configuration values.
var ErrConfiguration = errors.New("invalid configuration")

// PolicyViolationError explains why the failure-window policy refused logging.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	if e.Reason == "" {
		return ErrCannotTimestamp.Error()
	}
	return ErrCannotTimestamp.Error() + ": " + e.Reason
}

func (e *PolicyViolationError) Unwrap() error { return ErrCannotTimestamp }

// TimestampProviderError is returned when no configured TSA produced a token.
type TimestampProviderError struct {
	// Cause is the error of the last attempted TSA.
	Cause error
	// Attempts maps each tried URL to its failure.
	Attempts map[string]error
}

func (e *TimestampProviderError) Error() string {
	return fmt.Sprintf("time-stamping failed after %d attempt(s): %v", len(e.Attempts), e.Cause)
}

func (e *TimestampProviderError) Unwrap() error { return e.Cause }

// StorageError wraps repository failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
