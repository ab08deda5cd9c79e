package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/redis"
	"cargorapido/internal/repository"
)

// AssignmentArbiter resolves concurrent accepts of a booking into exactly one winner.
type AssignmentArbiter struct {
	registry  *BookingRegistry
	drivers   AvailabilityProvider
	lockStore redis.LockStoreInterface // optional
	metrics   *metrics.Metrics
	logger    *zap.Logger

	driverLockTTL time.Duration
	now           func() time.Time
}

// NewAssignmentArbiter creates a new AssignmentArbiter. lockStore may be nil.
func NewAssignmentArbiter(
	registry *BookingRegistry,
	drivers AvailabilityProvider,
	lockStore redis.LockStoreInterface,
	m *metrics.Metrics,
	logger *zap.Logger,
	driverLockTTL time.Duration,
) *AssignmentArbiter {
	return &AssignmentArbiter{
		registry:      registry,
		drivers:       drivers,
		lockStore:     lockStore,
		metrics:       m,
		logger:        logger,
		driverLockTTL: driverLockTTL,
		now:           time.Now,
	}
}

// Accept assigns the booking to the driver. Every losing attempt gets
// ErrAlreadyClaimed; none is silently ignored.
func (a *AssignmentArbiter) Accept(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	booking, err := a.accept(ctx, bookingID, driverID)
	a.metrics.AcceptOutcome(acceptOutcome(err))
	if err != nil {
		a.logger.Debug("accept rejected",
			zap.String("booking_id", bookingID),
			zap.String("driver_id", driverID),
			zap.Error(err),
		)
		return nil, err
	}

	a.logger.Info("booking assigned",
		zap.String("booking_id", booking.ID),
		zap.String("driver_id", driverID),
	)
	return booking, nil
}

func (a *AssignmentArbiter) accept(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, invalid("id", "required")
	}
	if driverID == "" {
		return nil, invalid("driverId", "required")
	}

	attemptedAt := a.now()

	booking, err := a.registry.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingStatusPending {
		return nil, ErrAlreadyClaimed
	}
	if booking.IsExpired(attemptedAt) {
		return nil, ErrDeadlinePassed
	}

	availability, err := a.drivers.GetAvailability(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !availability.IsOnline() {
		return nil, ErrDriverNotOnline
	}

	if a.lockStore != nil {
		token, err := a.lockStore.AcquireDriverLock(ctx, driverID, a.driverLockTTL)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, ErrDriverBusy
		}
		defer func() {
			if err := a.lockStore.ReleaseDriverLock(context.WithoutCancel(ctx), driverID, token); err != nil {
				a.logger.Warn("release driver lock", zap.String("driver_id", driverID), zap.Error(err))
			}
		}()
	}

	busy, err := a.registry.HasActiveDelivery(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrDriverHasActiveDelivery
	}

	assigned, err := a.registry.CompareAndSetStatus(ctx, bookingID,
		domain.BookingStatusPending, domain.BookingStatusDriverAssigned,
		func(b *domain.Booking) error {
			if b.IsExpired(attemptedAt) {
				return ErrDeadlinePassed
			}
			b.DriverID = driverID
			return nil
		},
		domain.TimelineEntry{ActorID: driverID, Note: "driver accepted booking"},
	)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}
	return assigned, nil
}

func acceptOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.AcceptWon
	case errors.Is(err, ErrAlreadyClaimed):
		return metrics.AcceptAlreadyClaimed
	case errors.Is(err, ErrNotEligible):
		return metrics.AcceptNotEligible
	default:
		return metrics.AcceptError
	}
}
