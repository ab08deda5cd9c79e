package repository

import (
	"context"
	"time"

	"cargorapido/internal/domain"
)

// BookingMutator edits a fresh copy of a booking inside a compare-and-set.
// Returning an error aborts the whole operation.
type BookingMutator func(b *domain.Booking) error

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// Create persists a new booking together with its initial timeline.
	// Returns ErrDuplicate if the ID or HumanID is already taken.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking with its full timeline.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// AppendTimeline appends an entry and returns it with its sequence number set.
	// An entry without a status records the booking's current status.
	AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) (domain.TimelineEntry, error)

	// CompareAndSetStatus moves a booking from expected to next in one atomic step.
	// The mutator runs on the current record, the entry is appended in the same step,
	// and ErrConflict is returned if the current status is not expected.
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.BookingStatus, mutate BookingMutator, entry domain.TimelineEntry) (*domain.Booking, error)

	// ListPending returns pending bookings whose deadline has not passed at now, oldest first.
	ListPending(ctx context.Context, now time.Time) ([]*domain.Booking, error)

	// ListExpired returns pending bookings whose deadline passed before now, oldest first.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Booking, error)

	// HasActiveDelivery reports whether the driver holds a booking between assignment and delivery.
	HasActiveDelivery(ctx context.Context, driverID string) (bool, error)
}
