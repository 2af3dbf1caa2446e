// Package apperrors defines the error taxonomy shared by the churn pipeline.
//
// Every error returned across a package boundary wraps exactly one of the sentinels
// below so callers (notably the HTTP layer) can classify it with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrStorage    = errors.New("storage error")
	ErrNotFound   = errors.New("not found")
	ErrTraining   = errors.New("training error")
	ErrConflict   = errors.New("conflict")
)

// Validation returns an error wrapping ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Training returns an error wrapping ErrTraining.
func Training(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTraining, fmt.Sprintf(format, args...))
}

// Conflict returns an error wrapping ErrConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Storage wraps an underlying storage failure with ErrStorage, keeping the cause inspectable.
// Errors already classified are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "internal" {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Kind returns the name of the sentinel wrapped by err, or "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTraining):
		return "training"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
