// Package kv defines the persistence port used for domain verdict
// caching and run-state snapshots, plus its Redis implementation.
package kv

import (
	"context"
	"time"
)

// Store is a minimal TTL'd key-value port. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// ScanKeys returns every key starting with prefix.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
}
