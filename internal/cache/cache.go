// Package cache provides a small read-through cache used for dashboard
// counters and other derived views that tolerate short staleness.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encoded values under string keys with a TTL.
type Cache interface {
	// Get unmarshals the cached value into dest. The boolean reports whether
	// the key was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Noop is a Cache that stores nothing. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Noop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error                  { return nil }
