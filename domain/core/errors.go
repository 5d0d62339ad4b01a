package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound         = errors.New("resource not found")
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot", ErrNotFound)
	ErrUnknownMetric    = fmt.Errorf("%w: metric", ErrNotFound)

	// Validation errors
	ErrParse = errors.New("parse error")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
