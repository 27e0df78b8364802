// Package cache wraps a Redis client with JSON helpers. A Helper built with
// a nil client is valid and behaves as an always-empty cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotAvailable = errors.New("cache not available")
	ErrNotFound     = errors.New("cache entry not found")
)

// Helper stores JSON values under a common key prefix.
type Helper struct {
	client *redis.Client
	prefix string
}

// New creates a Helper. client may be nil.
func New(client *redis.Client, prefix string) *Helper {
	return &Helper{client: client, prefix: prefix}
}

// Connect opens a Redis client from a URL like redis://host:6379/0 and
// verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Available reports whether a Redis client is configured.
func (h *Helper) Available() bool { return h != nil && h.client != nil }

// Key returns the prefixed key.
func (h *Helper) Key(key string) string {
	return h.prefix + key
}

// Get loads the value stored under key into dest.
func (h *Helper) Get(ctx context.Context, key string, dest any) error {
	if !h.Available() {
		return ErrNotAvailable
	}
	data, err := h.client.Get(ctx, h.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal: %w", err)
	}
	return nil
}

// Set stores value under key for ttl. Without a client it does nothing.
func (h *Helper) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !h.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := h.client.Set(ctx, h.Key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes keys.
func (h *Helper) Delete(ctx context.Context, keys ...string) error {
	if !h.Available() || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = h.Key(k)
	}
	if err := h.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (h *Helper) Ping(ctx context.Context) error {
	if !h.Available() {
		return ErrNotAvailable
	}
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}
