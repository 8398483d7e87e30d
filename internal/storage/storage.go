// Package storage defines the key-value store boundary that holds every
// mapping, flag, translation table, and statistics record. Implementations
// must be safe for concurrent readers and writers; per-key atomicity is
// assumed, multi-key transactions are not.
package storage

import (
	"context"
	"time"
)

// Store is the key-value interface consumed by every stateful component.
// Get returns (value, false, nil) semantics for absent keys so "not found"
// is a normal branch, not an error.
type Store interface {
	// Get returns the value for key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores a value with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetTTL stores a value that expires after ttl.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}
