package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cargorapido/internal/config"
)

func TestRedisOptions(t *testing.T) {
	opts := redisOptions(config.RedisConfig{
		Addr:         "cache:6379",
		DB:           2,
		PoolSize:     20,
		MinIdleConns: 5,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 5, opts.MinIdleConns)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.ReadTimeout)
}

func TestKeySpace(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cmd  redis.Cmder
		want string
	}{
		{"lock", redis.NewStatusCmd(ctx, "set", "lock:driver:d1", "token"), "lock"},
		{"geo index", redis.NewIntCmd(ctx, "geoadd", "bookings:pending:pickups", 72.87, 19.07, "b1"), "bookings"},
		{"lua release", redis.NewCmd(ctx, "evalsha", "abc123", 1, "lock:driver:d1", "token"), "lock"},
		{"no key", redis.NewStatusCmd(ctx, "ping"), "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keySpace(tt.cmd))
		})
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
