package kv

import (
	"context"
	"errors"
	"sync"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

// ErrClosed is returned by a MemoryStore after Close
var ErrClosed = errors.New("kv: store is closed")

// MemoryStore is an in-memory KeyValueStore, used by tests and by the
// --ephemeral flag of the CLI
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// Ensure MemoryStore implements the KeyValueStore interface
var _ repositories.KeyValueStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get implements KeyValueStore interface
func (m *MemoryStore) Get(_ context.Context, key repositories.StoreKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	value, exists := m.values[string(encode(key))]
	if !exists {
		return nil, repositories.ErrKeyNotFound
	}

	// Return a copy to prevent external modifications
	return append([]byte(nil), value...), nil
}

// Set implements KeyValueStore interface
func (m *MemoryStore) Set(_ context.Context, key repositories.StoreKey, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.values[string(encode(key))] = append([]byte(nil), value...)
	return nil
}

// Delete implements KeyValueStore interface
func (m *MemoryStore) Delete(_ context.Context, key repositories.StoreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.values, string(encode(key)))
	return nil
}

// BatchSet implements KeyValueStore interface
func (m *MemoryStore) BatchSet(_ context.Context, entries []repositories.StoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, e := range entries {
		m.values[string(encode(e.Key))] = append([]byte(nil), e.Value...)
	}
	return nil
}

// Close implements KeyValueStore interface
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
