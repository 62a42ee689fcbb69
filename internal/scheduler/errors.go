package scheduler

import (
	"errors"

	"github.com/edgefleet/c2d/internal/opgraph"
	"github.com/edgefleet/c2d/internal/storage"
	"github.com/edgefleet/c2d/internal/types"
)

var (
	// ErrInvalidTransition is returned when a state change is not allowed by
	// the operation state machine.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownDependency is returned when a new operation references an
	// operation id that does not exist.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, types.ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnknownDependency) ||
		errors.Is(err, storage.ErrReferenced) ||
		errors.Is(err, storage.ErrAlreadyExists)
}

// IsNotFound reports whether err means the requested operation does not exist.
// A dangling dependency found mid-traversal is not a not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) && !opgraph.IsInvariantViolation(err)
}

// IsInternal reports whether err is neither a client nor a not-found error.
func IsInternal(err error) bool {
	return err != nil && !IsClientError(err) && !IsNotFound(err)
}
