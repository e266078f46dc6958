package api

import "context"

// Persistence is a durable key/value store with atomic put/get/remove.
// The RSM driver writes only two keys (see internal/redolog and
// rsm.doneKey), always from the apply loop, so contention on them is
// absent.
type Persistence interface {
	// Put atomically and durably stores value under key.
	Put(ctx context.Context, key, value []byte) error

	// Get returns the value stored under key, or (nil, nil) if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Remove deletes key. It is idempotent: removing an absent key is
	// not an error.
	Remove(ctx context.Context, key []byte) error
}
