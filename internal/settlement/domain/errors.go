package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyID is returned when an entity id is empty.
	ErrEmptyID = errors.New("settlement: empty id")
	// ErrNilEntity is returned when saving a nil entity.
	ErrNilEntity = errors.New("settlement: nil entity")
	// ErrCycleImmutable is returned when a closed or cancelled cycle would be rewritten.
	ErrCycleImmutable = errors.New("settlement: cycle is immutable")
	// ErrCycleNotOpen is returned when a transition requires an open cycle.
	ErrCycleNotOpen = errors.New("settlement: cycle not open")
)

// ConflictError reports a state conflict, e.g. a second open cycle for a route.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("settlement: %s conflict: %s", e.Resource, e.Reason)
	}
	return fmt.Sprintf("settlement: %s %s conflict: %s", e.Resource, e.ID, e.Reason)
}

// NotFoundError reports a missing route, client, table, cycle or settlement.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("settlement: %s %s not found", e.Resource, e.ID)
}

// ComputationError reports malformed numeric input such as a negative meter reading.
type ComputationError struct {
	Field  string
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("settlement: invalid %s: %s", e.Field, e.Reason)
}

// ValidationError reports a malformed request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settlement: %s %s", e.Field, e.Reason)
}

// Conflict builds a ConflictError.
func Conflict(resource, id, reason string) error {
	return &ConflictError{Resource: resource, ID: id, Reason: reason}
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsComputation reports whether err wraps a ComputationError.
func IsComputation(err error) bool {
	var target *ComputationError
	return errors.As(err, &target)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
