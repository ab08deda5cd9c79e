package redis

import (
	"context"
	"time"

	"cargorapido/internal/domain"
)

// GeoIndexInterface defines the interface for position lookups.
type GeoIndexInterface interface {
	Add(ctx context.Context, member string, lat, lng float64) error
	Within(ctx context.Context, lat, lng, radiusKm float64) ([]string, error)
	Remove(ctx context.Context, member string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (string, error)
	ReleaseDriverLock(ctx context.Context, driverID, token string) error
}

// AvailabilityCacheInterface defines the interface for the driver availability cache.
type AvailabilityCacheInterface interface {
	GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error)
	SetAvailability(ctx context.Context, a *domain.DriverAvailability) error
	InvalidateAvailability(ctx context.Context, driverID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ GeoIndexInterface          = (*GeoIndex)(nil)
	_ LockStoreInterface         = (*LockStore)(nil)
	_ AvailabilityCacheInterface = (*CacheStore)(nil)
)
