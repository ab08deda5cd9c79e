// Package memory provides in-process repository implementations for single-node
// deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cargorapido/internal/domain"
	"cargorapido/internal/repository"
)

type bookingEntry struct {
	mu      sync.Mutex
	booking *domain.Booking
}

// BookingRepository keeps bookings in memory. Each booking has its own lock,
// so operations on different bookings never contend.
type BookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*bookingEntry
	humanIDs map[string]string
}

// NewBookingRepository creates an empty in-memory booking repository.
func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		bookings: make(map[string]*bookingEntry),
		humanIDs: make(map[string]string),
	}
}

var _ repository.BookingRepository = (*BookingRepository)(nil)

// Create stores a copy of the booking.
func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bookings[booking.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.humanIDs[booking.HumanID]; ok {
		return repository.ErrDuplicate
	}

	r.bookings[booking.ID] = &bookingEntry{booking: booking.Clone()}
	r.humanIDs[booking.HumanID] = booking.ID
	return nil
}

// GetByID returns a copy of the booking.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	e, err := r.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.booking.Clone(), nil
}

// AppendTimeline appends an entry after the current last one.
func (r *BookingRepository) AppendTimeline(ctx context.Context, id string, entry domain.TimelineEntry) (domain.TimelineEntry, error) {
	e, err := r.entry(ctx, id)
	if err != nil {
		return domain.TimelineEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.Status == "" {
		entry.Status = e.booking.Status
	}
	entry.Seq = len(e.booking.Timeline) + 1
	e.booking.Timeline = append(e.booking.Timeline, entry)
	return entry, nil
}

// CompareAndSetStatus applies the change under the booking's lock. The stored
// record is replaced only after the mutator succeeds.
func (r *BookingRepository) CompareAndSetStatus(
	ctx context.Context,
	id string,
	expected, next domain.BookingStatus,
	mutate repository.BookingMutator,
	entry domain.TimelineEntry,
) (*domain.Booking, error) {
	e, err := r.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.booking.Status != expected {
		return nil, repository.ErrConflict
	}

	b := e.booking.Clone()
	if mutate != nil {
		if err := mutate(b); err != nil {
			return nil, err
		}
	}
	b.Status = next
	b.Version = e.booking.Version + 1
	b.UpdatedAt = entry.Timestamp
	entry.Seq = len(e.booking.Timeline) + 1
	// Rebuild from the stored timeline so a mutator cannot rewrite history.
	b.Timeline = append(append([]domain.TimelineEntry(nil), e.booking.Timeline...), entry)

	e.booking = b
	return b.Clone(), nil
}

// ListPending returns pending bookings whose deadline has not passed at now, oldest first.
func (r *BookingRepository) ListPending(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	return r.filter(ctx, func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusPending && !b.IsExpired(now)
	})
}

// ListExpired returns pending bookings whose deadline passed before now, oldest first.
func (r *BookingRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Booking, error) {
	return r.filter(ctx, func(b *domain.Booking) bool {
		return b.Status == domain.BookingStatusPending && b.IsExpired(now)
	})
}

// HasActiveDelivery reports whether the driver holds a booking between assignment and delivery.
func (r *BookingRepository) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	active, err := r.filter(ctx, func(b *domain.Booking) bool {
		return b.DriverID == driverID && b.Status.IsActiveDelivery()
	})
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

func (r *BookingRepository) entry(ctx context.Context, id string) (*bookingEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.bookings[id]
	r.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (r *BookingRepository) filter(ctx context.Context, keep func(b *domain.Booking) bool) ([]*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entries := make([]*bookingEntry, 0, len(r.bookings))
	for _, e := range r.bookings {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []*domain.Booking
	for _, e := range entries {
		e.mu.Lock()
		if keep(e.booking) {
			out = append(out, e.booking.Clone())
		}
		e.mu.Unlock()
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
