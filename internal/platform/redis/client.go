// Package redis builds the shared go-redis client used by the claim lease
// store.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trustgate/internal/platform/config"
)

// Client wraps *redis.Client with a health probe for /healthz.
type Client struct {
	*redis.Client
}

// New dials Redis from configuration and verifies the connection. A nil
// client with nil error means Redis is not configured and the caller should
// fall back to the in-memory store.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether the connection is usable.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
