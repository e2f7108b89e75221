package kv

import (
	"context"
	"strings"
)

// Entry is a stored value with its version.
type Entry struct {
	Value   []byte
	Version int64
}

// Store is a versioned key-value store.
type Store interface {
	// Get returns the entry stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// Put writes value if the stored version equals expectedVersion.
	// expectedVersion 0 means the key must not exist yet.
	// Returns the new version, or ErrVersionConflict.
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key joins parts into a store key: Key("subscription", "shop-1") == "subscription:shop-1".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
