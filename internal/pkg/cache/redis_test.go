package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewRedisCache(rdb, "orders")
	ctx := context.Background()

	key := c.GenerateKey("find", "O1")
	assert.Equal(t, "orders:find:O1", key)

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got, "miss must be reported as empty string")

	require.NoError(t, c.Set(ctx, key, `{"id":"O1"}`, time.Minute))
	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"O1"}`, got)

	mr.FastForward(2 * time.Minute)
	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got, "entry must expire after its ttl")

	require.NoError(t, c.Set(ctx, key, "v", 0))
	require.NoError(t, c.Delete(ctx, key))
	assert.False(t, mr.Exists(key))
}
