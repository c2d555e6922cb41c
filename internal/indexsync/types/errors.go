package types

import (
	"errors"
	"fmt"
)

// PermanentError is a failure retrying cannot fix: a malformed document, a
// rejected mapping, a tenant mismatch. Every other error is transient.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError.
func Permanent(status int, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{StatusCode: status, Err: err}
}

// IsPermanent checks if an error is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// StatusError carries the backend status of a transient failure.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the backend status attached to err, or 0.
func StatusCode(err error) int {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
