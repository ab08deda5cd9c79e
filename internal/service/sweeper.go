package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/repository"
)

var errDeadlineExtended = errors.New("deadline already extended")

// SweeperConfig holds the escalation policy for unclaimed bookings.
type SweeperConfig struct {
	Interval          time.Duration
	AssignmentTimeout time.Duration
	MaxEscalations    int
	RadiusWidenFactor float64
}

// SweepResult counts what a single sweep did.
type SweepResult struct {
	Rebroadcast int
	Escalated   int
	Reindexed   int
}

// DeadlineSweeper handles pending bookings whose assignment deadline passed.
// It re-broadcasts them with a wider radius up to MaxEscalations times, then
// hands them to an administrator and leaves them out of the pool.
type DeadlineSweeper struct {
	registry *BookingRegistry
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      SweeperConfig
	now      func() time.Time
}

// NewDeadlineSweeper creates a new DeadlineSweeper.
func NewDeadlineSweeper(registry *BookingRegistry, notifier Notifier, m *metrics.Metrics, logger *zap.Logger, cfg SweeperConfig) *DeadlineSweeper {
	return &DeadlineSweeper{
		registry: registry,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *DeadlineSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("deadline sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadline sweeper stopped")
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep expired bookings", zap.Error(err))
				continue
			}
			if result.Rebroadcast > 0 || result.Escalated > 0 {
				s.logger.Info("swept expired bookings",
					zap.Int("rebroadcast", result.Rebroadcast),
					zap.Int("escalated", result.Escalated),
				)
			}
		}
	}
}

// Sweep processes every expired pending booking once, then reconciles the
// pending index with the registry.
func (s *DeadlineSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	now := s.now().UTC()
	expired, err := s.registry.ListExpired(ctx, now)
	if err != nil {
		return result, err
	}

	for _, b := range expired {
		switch {
		case b.EscalationLevel < s.cfg.MaxEscalations:
			ok, err := s.rebroadcast(ctx, b.ID, now)
			if err != nil {
				return result, err
			}
			if ok {
				result.Rebroadcast++
			}
		case b.EscalationLevel == s.cfg.MaxEscalations:
			ok, err := s.escalate(ctx, b.ID, now)
			if err != nil {
				return result, err
			}
			if ok {
				result.Escalated++
			}
		}
	}

	reindexed, err := s.registry.ReconcilePendingIndex(ctx, now)
	if err != nil {
		s.logger.Warn("reconcile pending index", zap.Error(err))
	}
	result.Reindexed = reindexed
	return result, nil
}

func (s *DeadlineSweeper) rebroadcast(ctx context.Context, id string, now time.Time) (bool, error) {
	updated, err := s.registry.CompareAndSetStatus(ctx, id,
		domain.BookingStatusPending, domain.BookingStatusPending,
		func(b *domain.Booking) error {
			if !b.IsExpired(now) || b.EscalationLevel >= s.cfg.MaxEscalations {
				return errDeadlineExtended
			}
			b.EscalationLevel++
			b.SearchRadiusKm *= s.cfg.RadiusWidenFactor
			b.AssignmentDeadline = now.Add(s.cfg.AssignmentTimeout)
			return nil
		},
		domain.TimelineEntry{
			ActorID:   domain.SystemActorID,
			Timestamp: now,
			Note:      "no driver accepted before the deadline; re-broadcast with a wider search radius",
		},
	)
	if skip, err := sweepOutcome(err); skip || err != nil {
		return false, err
	}

	s.registry.indexPending(ctx, updated)
	s.metrics.Escalated("rebroadcast")
	s.logger.Info("booking re-broadcast",
		zap.String("booking_id", updated.ID),
		zap.Int("escalation_level", updated.EscalationLevel),
		zap.Float64("search_radius_km", updated.SearchRadiusKm),
	)
	s.notifier.BookingPending(ctx, updated)
	return true, nil
}

func (s *DeadlineSweeper) escalate(ctx context.Context, id string, now time.Time) (bool, error) {
	updated, err := s.registry.CompareAndSetStatus(ctx, id,
		domain.BookingStatusPending, domain.BookingStatusPending,
		func(b *domain.Booking) error {
			if !b.IsExpired(now) || b.EscalationLevel != s.cfg.MaxEscalations {
				return errDeadlineExtended
			}
			b.EscalationLevel++
			return nil
		},
		domain.TimelineEntry{
			ActorID:   domain.SystemActorID,
			Timestamp: now,
			Note:      "no driver accepted before the deadline; administrator intervention required",
		},
	)
	if skip, err := sweepOutcome(err); skip || err != nil {
		return false, err
	}

	s.registry.unindexPending(ctx, id)
	s.metrics.Escalated("admin")
	s.logger.Warn("booking escalated to administrator", zap.String("booking_id", id))
	if last, ok := updated.LastTimelineEntry(); ok {
		s.notifier.BookingEscalated(ctx, updated, last)
	}
	return true, nil
}

// sweepOutcome treats lost races as a skip rather than a failure.
func sweepOutcome(err error) (skip bool, _ error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errDeadlineExtended), errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrNotFound):
		return true, nil
	default:
		return true, fmt.Errorf("sweep booking: %w", err)
	}
}
