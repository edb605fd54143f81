package session

import (
	"context"
	"time"
)

// Backend is the storage protocol behind the session store. Implementations
// must expire entries on their own (natively or via a sweep) and must treat
// deletes of absent keys as a success.
type Backend interface {
	// Get returns the raw value and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetWithTTL stores the value, replacing any prior entry and its TTL.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry. Idempotent.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns all live keys starting with prefix.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
