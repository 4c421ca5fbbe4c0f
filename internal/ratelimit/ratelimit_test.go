package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFixedWindowLimiter(t *testing.T) {
	_, client := newRedis(t)
	l, err := NewFixedWindowLimiter(client, "test:rl", 2, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "user:1"))
	assert.True(t, l.Allow(ctx, "user:1"))
	assert.False(t, l.Allow(ctx, "user:1"))
	assert.True(t, l.Allow(ctx, "user:2"))
}

func TestFixedWindowLimiter_NewWindowResets(t *testing.T) {
	_, client := newRedis(t)
	l, err := NewFixedWindowLimiter(client, "test:rl", 1, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "k"))
	assert.False(t, l.Allow(ctx, "k"))
	now = now.Add(time.Minute)
	assert.True(t, l.Allow(ctx, "k"))
}

func TestFixedWindowLimiter_FailsClosed(t *testing.T) {
	mr, client := newRedis(t)
	l, err := NewFixedWindowLimiter(client, "test:rl", 5, time.Minute)
	require.NoError(t, err)
	mr.Close()
	assert.False(t, l.Allow(context.Background(), "k"))
}

func TestFixedWindowLimiter_Validation(t *testing.T) {
	_, client := newRedis(t)
	_, err := NewFixedWindowLimiter(client, "", 0, time.Minute)
	require.Error(t, err)
	_, err = NewFixedWindowLimiter(nil, "", 1, time.Minute)
	require.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(60, 2)
	ctx := context.Background()

	assert.True(t, l.Allow(ctx, "a"))
	assert.True(t, l.Allow(ctx, "a"))
	assert.False(t, l.Allow(ctx, "a"))
	assert.True(t, l.Allow(ctx, "b"))
}

func TestLocalLimiter_Disabled(t *testing.T) {
	l := NewLocalLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(context.Background(), "a"))
	}
}
