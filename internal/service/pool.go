package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/metrics"
	"cargorapido/internal/repository"
)

// PoolConfig holds the dispatch pool settings.
type PoolConfig struct {
	SearchRadiusKm    float64
	RadiusWidenFactor float64
	MaxEscalations    int
	PollInterval      time.Duration
}

// DispatchPool answers which bookings a driver can see right now. It has no
// side effects.
type DispatchPool struct {
	registry     *BookingRegistry
	drivers      AvailabilityProvider
	metrics      *metrics.Metrics
	logger       *zap.Logger

	maxRadiusKm  float64
	pollInterval time.Duration
	now          func() time.Time
}

// NewDispatchPool creates a new DispatchPool. It shares the registry's pending
// index when Redis is enabled.
func NewDispatchPool(
	registry *BookingRegistry,
	drivers AvailabilityProvider,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg PoolConfig,
) *DispatchPool {
	widen := math.Max(cfg.RadiusWidenFactor, 1)
	return &DispatchPool{
		registry:     registry,
		drivers:      drivers,
		metrics:      m,
		logger:       logger,
		maxRadiusKm:  cfg.SearchRadiusKm * math.Pow(widen, float64(cfg.MaxEscalations)),
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}
}

// PollInterval is how often drivers are expected to call ListEligible.
func (p *DispatchPool) PollInterval() time.Duration {
	return p.pollInterval
}

// ListEligible returns pending, unexpired bookings whose pickup lies within the
// booking's search radius of the driver, oldest first. When location is nil
// the driver's last reported position is used.
func (p *DispatchPool) ListEligible(ctx context.Context, driverID string, location *domain.GeoPoint) ([]*domain.Booking, error) {
	if driverID == "" {
		return nil, invalid("driverId", "required")
	}
	if location != nil {
		if !isValidLatitude(location.Lat) {
			return nil, invalid("lat", "must be a latitude between -90 and 90")
		}
		if !isValidLongitude(location.Lng) {
			return nil, invalid("lng", "must be a longitude between -180 and 180")
		}
	}

	availability, err := p.drivers.GetAvailability(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !availability.IsOnline() {
		return nil, ErrDriverNotOnline
	}
	if location == nil {
		location = availability.CurrentLocation
	}
	if location == nil {
		return nil, invalid("location", "required")
	}

	now := p.now()
	candidates, err := p.candidates(ctx, *location, now)
	if err != nil {
		return nil, err
	}

	eligible := make([]*domain.Booking, 0, len(candidates))
	for _, b := range candidates {
		if b.Status != domain.BookingStatusPending || b.IsExpired(now) {
			continue
		}
		if distanceKm(location.Lat, location.Lng, b.Pickup.Lat, b.Pickup.Lng) > b.SearchRadiusKm {
			continue
		}
		eligible = append(eligible, b)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	p.metrics.PoolQuery(len(eligible))
	return eligible, nil
}

// candidates returns bookings read from the registry during this call. The geo
// index only narrows which bookings are read, and is skipped while stale.
func (p *DispatchPool) candidates(ctx context.Context, location domain.GeoPoint, now time.Time) ([]*domain.Booking, error) {
	index := p.registry.pending
	if !index.Usable() {
		return p.registry.ListPending(ctx, now)
	}

	ids, err := index.Within(ctx, location, p.maxRadiusKm)
	if err != nil {
		p.logger.Warn("pending index lookup failed, scanning registry", zap.Error(err))
		return p.registry.ListPending(ctx, now)
	}

	bookings := make([]*domain.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := p.registry.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}
