package state

import (
	"context"
	"time"
)

// Store is the narrow contract the state manager needs from a shared
// key-value store: plain values with TTLs, atomic set-if-absent, sets and
// counters. The production implementation lives in platform/redisstore; an
// in-memory implementation in this package backs tests and single-process
// development.
type Store interface {
	// Get returns the value at key. The boolean reports whether the key
	// exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value at key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically writes value at key only if the key does not exist.
	// Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Expire replaces the TTL on key. Returns false if the key does not
	// exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Keys returns every key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// SAdd / SRem / SMembers / SIsMember / SCard operate on a set value.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// IncrBy atomically adds delta (which may be negative) to the integer
	// at key, creating it at zero if absent, and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
