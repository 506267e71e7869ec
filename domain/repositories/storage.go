package repositories

import (
	"context"
	"errors"
	"strings"
)

// ErrKeyNotFound is returned by KeyValueStore.Get when a key does not exist
var ErrKeyNotFound = errors.New("kv: not found")

// StoreKey is a hierarchical key, e.g. StoreKey{"config", "backend_url"}
type StoreKey []string

// String returns the key joined with ':' for display
func (k StoreKey) String() string {
	return strings.Join(k, ":")
}

// StoreEntry is a key-value pair written by BatchSet
type StoreEntry struct {
	Key   StoreKey
	Value []byte
}

// KeyValueStore abstracts the durable store holding client settings
type KeyValueStore interface {
	// Get retrieves the value for a key. Returns ErrKeyNotFound if not present.
	Get(ctx context.Context, key StoreKey) ([]byte, error)
	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key StoreKey, value []byte) error
	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key StoreKey) error
	// BatchSet atomically stores multiple key-value pairs.
	BatchSet(ctx context.Context, entries []StoreEntry) error
	// Close releases any resources held by the store.
	Close() error
}
