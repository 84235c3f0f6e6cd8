package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a thin wrapper around the shared Redis store. The governor
// uses it for fair-use counters, concurrency leases and cluster-wide flags.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// Config Redis 连接配置
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(c *Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	})

	return &RedisCache{
		client:    client,
		keyPrefix: c.KeyPrefix,
	}
}

// NewFromClient wraps an existing client. 测试用。
func NewFromClient(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// makeKey 生成带前缀的键
func (c *RedisCache) makeKey(key string) string {
	if c.keyPrefix != "" {
		return fmt.Sprintf("%s:%s", c.keyPrefix, key)
	}
	return key
}

// Get gets a value from cache. Returns ("", false, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set sets a value in cache with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.client.Set(ctx, c.makeKey(key), value, ttl).Err()
}

// Delete deletes a key from cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.makeKey(key)).Err()
}

// IncrWithTTL 自增并刷新过期时间（pipeline，一次往返）。
// 返回自增后的计数。用于固定窗口计数和并发租约。
func (c *RedisCache) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, c.makeKey(key))
	pipe.Expire(ctx, c.makeKey(key), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Decr 自减，返回自减后的计数
func (c *RedisCache) Decr(ctx context.Context, key string) (int64, error) {
	return c.client.Decr(ctx, c.makeKey(key)).Result()
}

// GetInt 读取整数计数，缺失返回 0
func (c *RedisCache) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// AddToSetWithTTL 向集合添加成员并刷新过期时间，返回集合基数。
// 用于滥用防护的 distinct-tenant 统计。
func (c *RedisCache) AddToSetWithTTL(ctx context.Context, key, member string, ttl time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, c.makeKey(key), member)
	pipe.Expire(ctx, c.makeKey(key), ttl)
	card := pipe.SCard(ctx, c.makeKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// TTL 获取剩余过期时间
func (c *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, c.makeKey(key)).Result()
}

// Ping checks connectivity to the shared store.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
