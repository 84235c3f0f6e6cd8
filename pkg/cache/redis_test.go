package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *RedisCache {
	t.Helper()
	c := NewRedisCache(&Config{
		Addr:        "localhost:6379",
		DialTimeout: time.Second,
		KeyPrefix:   fmt.Sprintf("cachetest:%d", time.Now().UnixNano()),
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Skip("Redis not available, skipping:", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisCache_GetSet(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	// 缓存未命中返回 ("", false, nil)，不是错误
	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_IncrWithTTL(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	count, err := c.IncrWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = c.IncrWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ttl, err := c.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	count, err = c.Decr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := c.GetInt(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// 缺失的计数读为 0
	got, err = c.GetInt(ctx, "missing-counter")
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRedisCache_AddToSetWithTTL(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	card, err := c.AddToSetWithTTL(ctx, "tenants", "t-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)

	// 重复成员不增加基数
	card, err = c.AddToSetWithTTL(ctx, "tenants", "t-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)

	card, err = c.AddToSetWithTTL(ctx, "tenants", "t-2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}
