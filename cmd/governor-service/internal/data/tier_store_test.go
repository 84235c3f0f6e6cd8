package data

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgovernor/cmd/governor-service/internal/domain"
	"llmgovernor/pkg/cache"
)

func testTierStore(t *testing.T) domain.TierStore {
	t.Helper()
	c := cache.NewRedisCache(&cache.Config{
		Addr:        "localhost:6379",
		DialTimeout: time.Second,
		KeyPrefix:   fmt.Sprintf("tiertest:%d", time.Now().UnixNano()),
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Skip("Redis not available, skipping:", err)
	}
	t.Cleanup(func() { c.Close() })
	return NewTierStore(c, log.NewStdLogger(io.Discard))
}

func TestTierStore_RoundTrip(t *testing.T) {
	store := testTierStore(t)
	ctx := context.Background()

	// 未设置的租户按 free 处理
	tier, err := store.TierOf(ctx, "t-unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, tier)

	require.NoError(t, store.SetTier(ctx, "t-1", domain.TierPro))
	tier, err = store.TierOf(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, tier)

	require.NoError(t, store.SetTier(ctx, "t-1", domain.TierEnterprise))
	tier, err = store.TierOf(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnterprise, tier)
}

func TestTierStore_RejectsInvalidTier(t *testing.T) {
	store := testTierStore(t)

	err := store.SetTier(context.Background(), "t-1", domain.Tier("platinum"))
	assert.Error(t, err)
}

func TestTierStore_DefaultsToFreeWhenStoreDown(t *testing.T) {
	c := cache.NewRedisCache(&cache.Config{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	store := NewTierStore(c, log.NewStdLogger(io.Discard))

	// 等级查不到只影响限额档位，不让准入失败
	tier, err := store.TierOf(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, tier)
}
