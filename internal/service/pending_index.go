package service

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cargorapido/internal/domain"
	"cargorapido/internal/redis"
)

// MaxIndexableLatitude is the largest absolute latitude a Redis GEO set accepts.
const MaxIndexableLatitude = 85.05112878

// pendingIndex keeps the pickups of pending bookings in a geo index. A failed
// write marks the index stale and readers scan the registry until a later
// Reconcile re-adds every pending booking.
type pendingIndex struct {
	geo    redis.GeoIndexInterface
	logger *zap.Logger

	// The index is stale while failures != reconciled.
	failures   atomic.Uint64
	reconciled atomic.Uint64
}

func newPendingIndex(geo redis.GeoIndexInterface, logger *zap.Logger) *pendingIndex {
	if geo == nil {
		return nil
	}
	return &pendingIndex{geo: geo, logger: logger}
}

// Usable reports whether lookups can be served from the index.
func (x *pendingIndex) Usable() bool {
	return x != nil && x.failures.Load() == x.reconciled.Load()
}

func (x *pendingIndex) Add(ctx context.Context, b *domain.Booking) {
	if x == nil {
		return
	}
	if err := x.add(ctx, b); err != nil {
		x.failures.Add(1)
		x.logger.Warn("index pending booking, falling back to registry scans",
			zap.String("booking_id", b.ID), zap.Error(err))
	}
}

func (x *pendingIndex) add(ctx context.Context, b *domain.Booking) error {
	if math.Abs(b.Pickup.Lat) > MaxIndexableLatitude {
		return fmt.Errorf("pickup latitude %f outside the geo index range", b.Pickup.Lat)
	}
	return x.geo.Add(ctx, b.ID, b.Pickup.Lat, b.Pickup.Lng)
}

// Remove drops a booking. A leftover member only costs an extra registry read.
func (x *pendingIndex) Remove(ctx context.Context, id string) {
	if x == nil {
		return
	}
	if err := x.geo.Remove(ctx, id); err != nil {
		x.logger.Warn("unindex booking", zap.String("booking_id", id), zap.Error(err))
	}
}

func (x *pendingIndex) Within(ctx context.Context, p domain.GeoPoint, radiusKm float64) ([]string, error) {
	return x.geo.Within(ctx, p.Lat, p.Lng, radiusKm)
}

// Reconcile re-adds every claimable booking, covering lost writes and a
// flushed or restarted Redis. It clears the stale mark only if no write
// failed while it ran.
func (x *pendingIndex) Reconcile(ctx context.Context, list func(context.Context, time.Time) ([]*domain.Booking, error), now time.Time) (int, error) {
	if x == nil {
		return 0, nil
	}
	seen := x.failures.Load()

	pending, err := list(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, b := range pending {
		if err := x.add(ctx, b); err != nil {
			return 0, fmt.Errorf("reindex booking %s: %w", b.ID, err)
		}
	}

	x.reconciled.Store(seen)
	return len(pending), nil
}
