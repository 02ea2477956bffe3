// Package cache provides a pluggable byte-value cache used for relay-list
// lookups and wallet balance snapshots. Backends: in-process memory or Redis.
package cache

import (
	"context"
	"time"
)

// Backend is the storage interface for cached values
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
