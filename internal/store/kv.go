package store

import "context"

// KeyValue is one entry returned by a prefix scan.
type KeyValue struct {
	Key   string
	Value []byte
}

// KV is the key/value contract the service persists through. Values are JSON
// documents; writes are last-write-wins per key; GetByPrefix returns entries
// ordered by key.
type KV interface {
	// Get returns the value for key. The second return is false when the
	// key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// MGet returns one value per requested key, in request order, with nil
	// entries for absent keys.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// GetByPrefix returns all entries whose key starts with prefix,
	// ordered by key.
	GetByPrefix(ctx context.Context, prefix string) ([]KeyValue, error)

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// MDel removes all the given keys.
	MDel(ctx context.Context, keys []string) error
}
