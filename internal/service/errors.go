package service

import (
	"errors"
	"fmt"

	"cargorapido/internal/repository"
)

var (
	// ErrValidation is returned when input is malformed. Errors carrying field
	// details are *ValidationError values that wrap it.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the booking does not exist.
	ErrNotFound = repository.ErrNotFound

	// ErrConflict is returned when a compare-and-set found an unexpected status.
	ErrConflict = repository.ErrConflict

	// ErrAlreadyClaimed is returned to every accept that lost the race for a booking.
	ErrAlreadyClaimed = errors.New("booking already claimed")

	// ErrStaleStatus is returned when another actor moved the booking during a transition.
	ErrStaleStatus = errors.New("booking status changed concurrently")

	// ErrInvalidOTP is returned when a supplied code does not match or was already used.
	ErrInvalidOTP = errors.New("invalid otp")

	// ErrNotEligible is returned when a driver may not see or claim a booking.
	ErrNotEligible = errors.New("not eligible")

	// ErrDeadlinePassed is returned when a booking's assignment deadline has expired.
	ErrDeadlinePassed = fmt.Errorf("%w: assignment deadline passed", ErrNotEligible)

	// ErrDriverNotOnline is returned when the driver is offline, busy, or unknown.
	ErrDriverNotOnline = fmt.Errorf("%w: driver not online", ErrNotEligible)

	// ErrDriverHasActiveDelivery is returned when the driver already holds a delivery.
	ErrDriverHasActiveDelivery = fmt.Errorf("%w: driver already has an active delivery", ErrNotEligible)

	// ErrDriverBusy is returned when another accept by the same driver is in flight.
	ErrDriverBusy = fmt.Errorf("%w: driver has an accept in progress", ErrNotEligible)

	// ErrInvalidTransition is returned when the target status is not reachable from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden is returned when the actor may not perform the transition.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a single malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
