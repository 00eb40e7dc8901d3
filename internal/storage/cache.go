package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/config"
)

const latestKeyPrefix = "market:latest:"

// Cache keeps the newest market snapshot per symbol in Redis so the trading
// loop can read it without a round trip to Postgres.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "market_cache").Logger(),
	}, nil
}

// SetLatestSnapshot stores the newest snapshot for a symbol.
func (c *Cache) SetLatestSnapshot(ctx context.Context, snap MarketSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, latestKeyPrefix+snap.Symbol, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the cached snapshot for a symbol, or (nil, nil) on a
// cache miss.
func (c *Cache) LatestSnapshot(ctx context.Context, symbol string) (*MarketSnapshot, error) {
	payload, err := c.client.Get(ctx, latestKeyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached snapshot: %w", err)
	}

	var snap MarketSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
