package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Geo index keys.
const (
	DriverLocationKey = "drivers:locations"
	PendingPickupKey  = "bookings:pending:pickups"
)

// GeoIndex stores member positions in a Redis GEO set.
type GeoIndex struct {
	client *redis.Client
	key    string
}

// NewGeoIndex creates a GeoIndex over the given key.
func NewGeoIndex(client *redis.Client, key string) *GeoIndex {
	return &GeoIndex{client: client, key: key}
}

// Add stores a member's position using GEOADD.
func (s *GeoIndex) Add(ctx context.Context, member string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      member,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// Within returns the members within the given radius (in kilometers), nearest first.
func (s *GeoIndex) Within(ctx context.Context, lat, lng, radiusKm float64) ([]string, error) {
	results, err := s.client.GeoRadius(ctx, s.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, len(results))
	for _, r := range results {
		members = append(members, r.Name)
	}
	return members, nil
}

// Remove deletes a member from the index.
func (s *GeoIndex) Remove(ctx context.Context, member string) error {
	return s.client.ZRem(ctx, s.key, member).Err()
}
