// Package redis connects the pending time-stamping queue to Redis.
//
// The queue keeps record IDs in a list plus a membership set and pushes them
// with a Lua script, so the server must allow EVAL. Queued IDs are the only
// state kept here; losing them is repaired by requeueing unstamped records
// from the repository at startup.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"msglog/internal/platform/config"
)

// Client is the connection shared by the pending queue and its health check.
type Client struct {
	*redis.Client
}

// Options turns the queue configuration into go-redis options. Zero pool
// settings keep the go-redis defaults.
func Options(cfg config.Redis) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// New connects to the queue's Redis. It returns nil when no URL is
// configured, in which case the queue stays in memory. Servers that refuse
// scripting are rejected at startup rather than on the first enqueue.
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if err := client.Eval(ctx, "return 1", nil).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis scripting unavailable: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether queued records can still be reached.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
