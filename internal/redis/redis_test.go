package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cargorapido/internal/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGeoIndex_WithinKilometers(t *testing.T) {
	_, client := newTestClient(t)
	idx := NewGeoIndex(client, PendingPickupKey)
	ctx := context.Background()

	// Andheri, about 5 km north, about 30 km north.
	require.NoError(t, idx.Add(ctx, "near", 19.0760, 72.8777))
	require.NoError(t, idx.Add(ctx, "mid", 19.1210, 72.8777))
	require.NoError(t, idx.Add(ctx, "far", 19.3460, 72.8777))

	got, err := idx.Within(ctx, 19.0760, 72.8777, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, got)

	got, err = idx.Within(ctx, 19.0760, 72.8777, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, got)

	require.NoError(t, idx.Remove(ctx, "mid"))
	got, err = idx.Within(ctx, 19.0760, 72.8777, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, got)
}

func TestGeoIndex_KeysAreSeparate(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	drivers := NewGeoIndex(client, DriverLocationKey)
	pickups := NewGeoIndex(client, PendingPickupKey)

	require.NoError(t, drivers.Add(ctx, "d1", 19.0760, 72.8777))

	got, err := pickups.Within(ctx, 19.0760, 72.8777, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLockStore_DriverLock(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()
	key := driverLockKey("d1")

	token, err := locks.AcquireDriverLock(ctx, "d1", 5*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, 5*time.Second, mr.TTL(key))

	second, err := locks.AcquireDriverLock(ctx, "d1", 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, second, "a held lock is not granted twice")

	require.NoError(t, locks.ReleaseDriverLock(ctx, "d1", "someone-else"))
	assert.True(t, mr.Exists(key), "a foreign token must not release the lock")

	require.NoError(t, locks.ReleaseDriverLock(ctx, "d1", token))
	assert.False(t, mr.Exists(key))
}

func TestLockStore_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()

	stale, err := locks.AcquireDriverLock(ctx, "d1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locks.AcquireDriverLock(ctx, "d1", 5*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	require.NoError(t, locks.ReleaseDriverLock(ctx, "d1", stale))
	got, err := mr.Get(driverLockKey("d1"))
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
}

func TestCacheStore_Availability(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewCacheStore(client)
	ctx := context.Background()

	miss, err := cache.GetAvailability(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	in := &domain.DriverAvailability{
		DriverID:        "d1",
		Status:          domain.DriverStatusOnline,
		CurrentLocation: &domain.GeoPoint{Lat: 19.0760, Lng: 72.8777},
	}
	require.NoError(t, cache.SetAvailability(ctx, in))
	assert.Equal(t, AvailabilityCacheTTL, mr.TTL(availabilityCachePrefix+"d1"))

	got, err := cache.GetAvailability(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DriverStatusOnline, got.Status)
	assert.Equal(t, in.CurrentLocation, got.CurrentLocation)

	mr.FastForward(AvailabilityCacheTTL + time.Second)
	got, err = cache.GetAvailability(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got, "entries expire after the TTL")

	require.NoError(t, cache.SetAvailability(ctx, &domain.DriverAvailability{DriverID: "d2", Status: domain.DriverStatusOffline}))
	require.NoError(t, cache.InvalidateAvailability(ctx, "d2"))
	got, err = cache.GetAvailability(ctx, "d2")
	require.NoError(t, err)
	assert.Nil(t, got)
}
