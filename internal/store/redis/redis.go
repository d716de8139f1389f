// Package redis implements the room export sink: a write-only fan-out of
// closed-room state to Redis for external analytics/archival. Non-goals
// exclude durable persistence the engine reads back, so this package never
// has a Get path the server depends on for correctness.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/config"
)

// Client wraps a go-redis client scoped to room export.
type Client struct {
	rdb       *redis.Client
	keyPrefix string
	logger    zerolog.Logger
}

// New creates a new Redis client, pings the server, and returns the Client wrapper.
// Complexity: O(1)
func New(cfg config.RedisConfig, logger zerolog.Logger) (*Client, error) {
	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("db", cfg.DB).
		Msg("initializing redis export client")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	prefix := cfg.ExportKeyPrefix
	if prefix == "" {
		prefix = "roomvoice:export:"
	}

	logger.Info().Msg("redis export client initialized")

	return &Client{rdb: rdb, keyPrefix: prefix, logger: logger}, nil
}

// Ping checks if the Redis server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection and releases all resources.
func (c *Client) Close() error {
	c.logger.Info().Msg("closing redis export client")
	return c.rdb.Close()
}

// ExportRoom writes the final JSON-encoded state of a closed room (its
// snapshot, transcript, and summaries, already marshaled by the caller) to
// a prefixed key with a 30-day TTL. Fire-and-forget: a failure here must
// never block or fail the room-close path, so the caller only logs it.
// Complexity: O(1)
func (c *Client) ExportRoom(ctx context.Context, roomID string, payload []byte) error {
	key := c.keyPrefix + roomID
	if err := c.rdb.Set(ctx, key, payload, 30*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to export room %s: %w", roomID, err)
	}
	return nil
}
