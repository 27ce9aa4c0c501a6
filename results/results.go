// Package results stores the output of completed async jobs: export
// payloads and bulk-import failure reports. Jobs reference entries by
// result key through the ledger.
package results

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/c360/recordstream/errors"
)

// Store holds binary job output keyed by result key.
type Store interface {
	// Put stores data at the key, overwriting any existing value
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data, or errors.ErrNotFound for a missing key
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix in lexicographic
	// order. An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the in-process Store used by tests and
// single-process deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Put stores a copy of data at the key
func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[key] = cp
	return nil
}

// Get returns a copy of the stored data
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "MemoryStore", "Get", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns matching keys in lexicographic order
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the key if present
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
