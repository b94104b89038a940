package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Design errors (fatal, raised before any iteration runs)
	ErrSchemaIncomplete   = errors.New("schema incomplete")
	ErrDesignDegenerate   = errors.New("design degenerate")
	ErrUnsupportedLayout  = errors.New("unsupported layout for statistic")
	ErrUnknownFactor      = errors.New("unknown factor")
	ErrUnknownLevel       = errors.New("level not allowed for factor")
	ErrUnknownSample      = errors.New("unknown sample")
	ErrDimensionMismatch  = errors.New("matrix and schema dimensions disagree")
	ErrInvalidConfig      = errors.New("invalid run configuration")
	ErrUnsupportedKind    = errors.New("unsupported statistic kind")
	ErrUnsupportedFamily  = errors.New("unsupported glm family")
	ErrAccumulatorSealed  = errors.New("null accumulator already finalized")
	ErrAccumulatorPending = errors.New("null accumulator not finalized")
	ErrCancelled          = errors.New("run cancelled")

	// Determinism errors
	ErrNonDeterministic = errors.New("non-deterministic result")
	ErrSeedMismatch     = errors.New("seed mismatch")

	ErrNotFound = errors.New("resource not found")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, reason)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDesignError reports whether err aborts a run before resampling starts.
func IsDesignError(err error) bool {
	return errors.Is(err, ErrSchemaIncomplete) ||
		errors.Is(err, ErrDesignDegenerate) ||
		errors.Is(err, ErrUnsupportedLayout)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrNonDeterministic) ||
		errors.Is(err, ErrSeedMismatch)
}
