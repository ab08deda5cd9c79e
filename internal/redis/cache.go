package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"cargorapido/internal/domain"
)

// AvailabilityCacheTTL bounds how stale a cached driver status can be.
const AvailabilityCacheTTL = 30 * time.Second

const availabilityCachePrefix = "cache:driver:availability:"

// CacheStore handles driver availability caching in Redis.
type CacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client, ttl: AvailabilityCacheTTL}
}

// CachedAvailability represents a cached driver availability record.
type CachedAvailability struct {
	DriverID string   `json:"driver_id"`
	Status   string   `json:"status"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// GetAvailability retrieves a driver's availability from cache.
// Returns nil on a cache miss.
func (s *CacheStore) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	data, err := s.client.Get(ctx, availabilityCachePrefix+driverID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var cached CachedAvailability
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	a := &domain.DriverAvailability{DriverID: cached.DriverID, Status: domain.DriverStatus(cached.Status)}
	if cached.Lat != nil && cached.Lng != nil {
		a.CurrentLocation = &domain.GeoPoint{Lat: *cached.Lat, Lng: *cached.Lng}
	}
	return a, nil
}

// SetAvailability stores a driver's availability in cache.
func (s *CacheStore) SetAvailability(ctx context.Context, a *domain.DriverAvailability) error {
	cached := CachedAvailability{DriverID: a.DriverID, Status: string(a.Status)}
	if a.CurrentLocation != nil {
		lat, lng := a.CurrentLocation.Lat, a.CurrentLocation.Lng
		cached.Lat, cached.Lng = &lat, &lng
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, availabilityCachePrefix+a.DriverID, data, s.ttl).Err()
}

// InvalidateAvailability removes a driver's availability from cache.
func (s *CacheStore) InvalidateAvailability(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, availabilityCachePrefix+driverID).Err()
}
