package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "wallet:v1:"

// Cache holds read-through copies of wallets.
type Cache interface {
	Get(ctx context.Context, id string) (Wallet, bool, error)
	Set(ctx context.Context, wallet Wallet) error
	Invalidate(ctx context.Context, id string) error
}

// RedisCache stores wallets as JSON in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a cache over client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached wallet, reporting false on a miss.
func (c *RedisCache) Get(ctx context.Context, id string) (Wallet, bool, error) {
	raw, err := c.client.Get(ctx, cachePrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Wallet{}, false, nil
	}
	if err != nil {
		return Wallet{}, false, fmt.Errorf("wallet cache get: %w", err)
	}
	var w Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return Wallet{}, false, fmt.Errorf("wallet cache decode: %w", err)
	}
	return w, true, nil
}

// Set stores wallet until the TTL elapses or it is invalidated.
func (c *RedisCache) Set(ctx context.Context, wallet Wallet) error {
	payload, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("wallet cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cachePrefix+wallet.ID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("wallet cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached copy of a wallet.
func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, cachePrefix+id).Err(); err != nil {
		return fmt.Errorf("wallet cache invalidate: %w", err)
	}
	return nil
}
