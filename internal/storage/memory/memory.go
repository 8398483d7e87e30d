// Package memory implements storage.Store in process memory. Durable keys
// live in a mutex-guarded map; TTL keys ride a ristretto cache so expiry is
// handled by the cache instead of a sweeper goroutine.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const maxFlagEntries = 1 << 20

// Store is an in-memory storage.Store. Intended for tests and single-node
// deployments that accept losing state on restart.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	flags  *ristretto.Cache[string, string]
}

// New creates an in-memory store.
func New() (*Store, error) {
	flags, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxFlagEntries * 10,
		MaxCost:     maxFlagEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		values: make(map[string]string),
		flags:  flags,
	}, nil
}

// Get returns the value for key from either the durable map or the TTL cache.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v, true, nil
	}
	if v, ok := s.flags.Get(key); ok {
		return v, true, nil
	}
	return "", false, nil
}

// Set stores a value with no expiry.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.flags.Del(key)
	return nil
}

// SetTTL stores a value that expires after ttl. Writes are flushed before
// returning so a Get on another goroutine observes the flag immediately.
// Any durable entry under the same key is removed; Get would otherwise keep
// serving it and hide the TTL value.
func (s *Store) SetTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	s.flags.SetWithTTL(key, value, 1, ttl)
	s.flags.Wait()
	return nil
}

// Delete removes a key from both layers.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	s.flags.Del(key)
	return nil
}

// Close releases the TTL cache.
func (s *Store) Close() error {
	s.flags.Close()
	return nil
}
