package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Well-known cache keys. The per-position dynamic keys live in state.go.
const (
	KeyWatchlist    = "watchlist:active"
	KeyContext      = "trading:context"
	KeySectorBudget = "sector_budget:active"

	KeyEmergencyStop = "trading:stopped"
	KeyPaused        = "trading:paused"
	KeyDryRunFlag    = "trading_flags:dryrun"

	KeyMonitorStatus = "monitoring:price_monitor"
)

// TypedCache stores one JSON-serialized value under a fixed key.
type TypedCache[T any] struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewTypedCache creates a cache adapter. ttl of zero means no expiry.
func NewTypedCache[T any](rdb *redis.Client, key string, ttl time.Duration) *TypedCache[T] {
	return &TypedCache[T]{rdb: rdb, key: key, ttl: ttl}
}

// Get returns the cached value, or nil when missing or unparseable.
func (c *TypedCache[T]) Get(ctx context.Context) *T {
	raw, err := c.rdb.Get(ctx, c.key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", c.key).Msg("cache read failed")
		}
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("cache parse failed")
		return nil
	}
	return &v
}

// Set stores the value, applying the configured TTL.
func (c *TypedCache[T]) Set(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key, data, c.ttl).Err()
}

// Delete removes the key.
func (c *TypedCache[T]) Delete(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}

// TypedHashCache stores one model per hash field.
type TypedHashCache[T any] struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewTypedHashCache[T any](rdb *redis.Client, key string, ttl time.Duration) *TypedHashCache[T] {
	return &TypedHashCache[T]{rdb: rdb, key: key, ttl: ttl}
}

// HGet returns one field's value, or nil when missing or unparseable.
func (c *TypedHashCache[T]) HGet(ctx context.Context, field string) *T {
	raw, err := c.rdb.HGet(ctx, c.key, field).Result()
	if err != nil {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return &v
}

// HSet stores one field and refreshes the hash TTL.
func (c *TypedHashCache[T]) HSet(ctx context.Context, field string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.rdb.HSet(ctx, c.key, field, data).Err(); err != nil {
		return err
	}
	if c.ttl > 0 {
		return c.rdb.Expire(ctx, c.key, c.ttl).Err()
	}
	return nil
}

// HGetAll returns every parseable field.
func (c *TypedHashCache[T]) HGetAll(ctx context.Context) map[string]T {
	raw, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil
	}
	out := make(map[string]T, len(raw))
	for field, data := range raw {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			continue
		}
		out[field] = v
	}
	return out
}

// FlagSet reports whether a boolean flag key holds a truthy value.
func FlagSet(ctx context.Context, rdb *redis.Client, key string) bool {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return raw != "" && raw != "0" && raw != "false"
}
