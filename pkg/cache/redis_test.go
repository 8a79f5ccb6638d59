package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewRedisCache(context.Background(), addr, "", 0)
	if err != nil {
		t.Skip("Redis not available")
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_SetGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	require.NoError(t, c.Set(ctx, key, map[string]int{"cycle": 3}, time.Minute))

	var got map[string]int
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, 3, got["cycle"])

	require.NoError(t, c.Delete(ctx, key))
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrMiss)
}

func TestRedisCache_LockExcludesSecondHolder(t *testing.T) {
	c := newTestCache(t)
	key := "close:" + uuid.NewString()

	release, err := c.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	again, err := c.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err)
	again()
}
