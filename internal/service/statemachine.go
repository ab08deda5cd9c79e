package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/repository"
)

// TransitionRequest contains the parameters for a status change.
type TransitionRequest struct {
	BookingID string
	Actor     domain.Actor
	Target    domain.BookingStatus
	OTP       string
	Note      string
	Proof     *domain.ProofOfDelivery // required for completed
	Reason    string                  // recorded for cancelled
}

// DeliveryStateMachine applies every status change after assignment.
type DeliveryStateMachine struct {
	registry *BookingRegistry
	otp      *OTPVerifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDeliveryStateMachine creates a new DeliveryStateMachine.
func NewDeliveryStateMachine(registry *BookingRegistry, otp *OTPVerifier, m *metrics.Metrics, logger *zap.Logger) *DeliveryStateMachine {
	return &DeliveryStateMachine{
		registry: registry,
		otp:      otp,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Transition moves the booking to req.Target. Either the status change and its
// timeline entry are both written or nothing changes.
func (m *DeliveryStateMachine) Transition(ctx context.Context, req TransitionRequest) (*domain.Booking, error) {
	if _, ok := domain.ParseBookingStatus(string(req.Target)); !ok {
		return nil, invalid("targetStatus", "unknown status")
	}

	booking, err := m.registry.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	// Assignment only happens through the arbiter.
	if req.Target == domain.BookingStatusDriverAssigned {
		return nil, ErrInvalidTransition
	}

	if err := authorize(booking, req.Actor, req.Target); err != nil {
		return nil, err
	}

	if gate, ok := otpGate(booking, req.Target); ok {
		if !m.otp.Verify(gate.Code, req.OTP, gate.Consumed()) {
			m.metrics.OTPRejected(string(req.Target))
			return nil, ErrInvalidOTP
		}
	}

	if !domain.CanTransition(booking.Status, req.Target) {
		return nil, ErrInvalidTransition
	}

	if req.Target == domain.BookingStatusCompleted {
		if err := validateProof(req.Proof); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	from := booking.Status
	updated, err := m.registry.CompareAndSetStatus(ctx, booking.ID, from, req.Target,
		func(b *domain.Booking) error {
			return m.apply(b, req, now)
		},
		domain.TimelineEntry{
			Note:      req.Note,
			ActorID:   req.Actor.ID,
			Timestamp: now,
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrStaleStatus
		}
		if errors.Is(err, ErrInvalidOTP) {
			m.metrics.OTPRejected(string(req.Target))
		}
		return nil, err
	}

	m.metrics.Transition(string(from), string(req.Target))
	m.logger.Info("booking status changed",
		zap.String("booking_id", updated.ID),
		zap.String("from", string(from)),
		zap.String("to", string(req.Target)),
		zap.String("actor_id", req.Actor.ID),
		zap.String("actor_role", string(req.Actor.Role)),
	)
	return updated, nil
}

// Cancel moves the booking to cancelled, recording the reason.
func (m *DeliveryStateMachine) Cancel(ctx context.Context, bookingID string, actor domain.Actor, reason string) (*domain.Booking, error) {
	return m.Transition(ctx, TransitionRequest{
		BookingID: bookingID,
		Actor:     actor,
		Target:    domain.BookingStatusCancelled,
		Note:      reason,
		Reason:    reason,
	})
}

// apply runs on the freshly locked record. The code is checked again here
// because it may have been consumed since the first check.
func (m *DeliveryStateMachine) apply(b *domain.Booking, req TransitionRequest, now time.Time) error {
	switch req.Target {
	case domain.BookingStatusPickedUp:
		if !m.otp.Verify(b.OTP.Pickup.Code, req.OTP, b.OTP.Pickup.Consumed()) {
			return ErrInvalidOTP
		}
		m.otp.Consume(&b.OTP.Pickup, now)
	case domain.BookingStatusDelivered:
		if !m.otp.Verify(b.OTP.Drop.Code, req.OTP, b.OTP.Drop.Consumed()) {
			return ErrInvalidOTP
		}
		m.otp.Consume(&b.OTP.Drop, now)
	case domain.BookingStatusCompleted:
		pod := *req.Proof
		if pod.ReceivedAt.IsZero() {
			pod.ReceivedAt = now
		}
		b.ProofOfDelivery = &pod
	case domain.BookingStatusCancelled:
		b.CancelReason = strings.TrimSpace(req.Reason)
	}
	return nil
}

// authorize checks that the actor may trigger the edge into target.
func authorize(b *domain.Booking, actor domain.Actor, target domain.BookingStatus) error {
	isAssignedDriver := actor.Role == domain.RoleDriver && b.DriverID != "" && actor.ID == b.DriverID

	switch target {
	case domain.BookingStatusCancelled:
		if actor.Role == domain.RoleAdmin || actor.Role == domain.RoleSystem {
			return nil
		}
		if actor.Role == domain.RoleCustomer && actor.ID == b.CustomerID {
			return nil
		}
	case domain.BookingStatusCompleted:
		if actor.Role == domain.RoleSystem || actor.Role == domain.RoleAdmin || isAssignedDriver {
			return nil
		}
	default:
		if isAssignedDriver {
			return nil
		}
	}
	return ErrForbidden
}

func otpGate(b *domain.Booking, target domain.BookingStatus) (domain.OTPCode, bool) {
	switch target {
	case domain.BookingStatusPickedUp:
		return b.OTP.Pickup, true
	case domain.BookingStatusDelivered:
		return b.OTP.Drop, true
	}
	return domain.OTPCode{}, false
}

func validateProof(p *domain.ProofOfDelivery) error {
	if p == nil {
		return invalid("proof", "required")
	}
	if strings.TrimSpace(p.RecipientName) == "" {
		return invalid("proof.recipientName", "required")
	}
	if strings.TrimSpace(p.RecipientPhone) == "" {
		return invalid("proof.recipientPhone", "required")
	}
	return nil
}
