// Package ratelimit throttles guest requests with a sliding window per key.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Default limits.
const (
	DefaultLimit   = 5
	DefaultWindow  = time.Minute
	DefaultMaxKeys = 10000
)

// ErrClosed is returned by Allow after Close.
var ErrClosed = errors.New("rate limiter closed")

// Limiter decides whether a request identified by keys may proceed.
type Limiter interface {
	// Allow reports whether every key is under its limit. When it is, the
	// request is recorded under every key. A rejected request records nothing.
	Allow(ctx context.Context, keys ...string) (bool, error)

	// Close releases resources.
	Close() error
}

// Config configures a limiter.
type Config struct {
	// Limit is the number of requests allowed per key within Window.
	Limit int

	// Window is the trailing period requests are counted over.
	Window time.Duration

	// MaxKeys bounds the number of keys tracked in memory. The least
	// recently used key is evicted first.
	MaxKeys int
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	return c
}

// IPKey returns the limiter key for a client address.
func IPKey(ip string) string {
	return "ip:" + ip
}

// GuestKey returns the limiter key for a guest id.
func GuestKey(id string) string {
	return "guest:" + id
}

// Keys returns the non-empty keys for a client address and guest id.
func Keys(ip, guestID string) []string {
	keys := make([]string, 0, 2)
	if ip != "" {
		keys = append(keys, IPKey(ip))
	}
	if guestID != "" {
		keys = append(keys, GuestKey(guestID))
	}
	return keys
}
