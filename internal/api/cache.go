package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/xkilldash9x/carlot/internal/config"
)

// ResponseCache stores encoded success bodies of the filter endpoints.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte) error
	Close() error
}

// NewResponseCache builds the backend named in cfg.
func NewResponseCache(cfg config.CacheConfig) (ResponseCache, error) {
	switch cfg.Backend {
	case config.CacheBackendMemory, "":
		return NewMemoryCache(cfg.Size, cfg.TTL), nil
	case config.CacheBackendRedis:
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPrefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// MemoryCache is a size-bounded in-process LRU whose entries expire after a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	body, ok := c.lru.Get(key)
	return body, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, body []byte) error {
	c.lru.Add(key, body)
	return nil
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}

// RedisCache shares cached responses between replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(addr, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, body []byte) error {
	return c.client.Set(ctx, c.prefix+key, body, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
