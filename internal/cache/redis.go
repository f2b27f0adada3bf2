package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures Redis access for the resource cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCache is a Redis-backed Cache. Values are stored as JSON strings
// under prefixed keys; batch writes go through a single pipeline.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache constructs a Redis-backed cache and verifies connectivity.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "stacksync:cache"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}

	return &RedisCache{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

// PutEntry stores one value under key.
func (c *RedisCache) PutEntry(ctx context.Context, key string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.entryKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// GetEntry reads the value at key into out.
func (c *RedisCache) GetEntry(ctx context.Context, key string, out interface{}) error {
	raw, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", ErrMissingEntry, key)
	}
	if err != nil {
		return fmt.Errorf("read cache entry %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return nil
}

// PutEntries stores a batch via one pipeline.
func (c *RedisCache) PutEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, c.entryKey(e.Key), []byte(e.Data), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write cache entries: %w", err)
	}
	return nil
}

// GetEntries reads a batch; a single missing key fails the read.
func (c *RedisCache) GetEntries(ctx context.Context, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.entryKey(k)
	}
	values, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("read cache entries: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, v := range values {
		if v == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingEntry, keys[i])
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected cache value type for %s", keys[i])
		}
		entries = append(entries, Entry{Key: keys[i], Data: json.RawMessage(s)})
	}
	return entries, nil
}

// PutList replaces the string list stored at key.
func (c *RedisCache) PutList(ctx context.Context, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal cache list %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.listKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("write cache list %s: %w", key, err)
	}
	return nil
}

// GetList reads the string list at key; missing lists are empty.
func (c *RedisCache) GetList(ctx context.Context, key string) ([]string, error) {
	raw, err := c.client.Get(ctx, c.listKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache list %s: %w", key, err)
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode cache list %s: %w", key, err)
	}
	return values, nil
}

// DeletePrefix removes every cache key beginning with prefix.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	patterns := []string{
		c.entryKey(prefix) + "*",
		c.listKey(prefix) + "*",
	}
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan cache keys %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cache keys %s: %w", pattern, err)
			}
		}
	}
	return nil
}

// Close closes Redis resources.
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache) entryKey(key string) string {
	return c.prefix + ":entry:" + key
}

func (c *RedisCache) listKey(key string) string {
	return c.prefix + ":list:" + key
}
