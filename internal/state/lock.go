package state

import (
	"context"
	"fmt"
	"time"
)

// LockStore is the lock primitive family. A lock exists only while held;
// acquisition is an atomic create-if-absent, so at most one owner can hold a
// resource at any instant. The store TTL bounds how long a crashed owner can
// keep a resource hostage.
//
// Every method fails loudly on store errors. A lock that silently degraded to
// local memory would still "work" in one process while another process
// acquires the same resource, which is exactly the bug this type prevents.
type LockStore struct {
	m *Manager
}

// Acquire attempts to take the lock on resource for owner. Returns true only
// if this call created the lock.
func (l *LockStore) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error) {
	acquired, err := l.m.store.SetNX(ctx, l.m.key(kindLock, resource), owner, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", resource, err)
	}
	return acquired, nil
}

// Release unconditionally drops the lock on resource.
func (l *LockStore) Release(ctx context.Context, resource string) error {
	if err := l.m.store.Del(ctx, l.m.key(kindLock, resource)); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", resource, err)
	}
	return nil
}

// ReleaseIfOwner drops the lock only if it is still held by owner, guarding
// against deleting a lock that expired and was re-acquired by someone else.
// Returns true if this call removed the lock.
func (l *LockStore) ReleaseIfOwner(ctx context.Context, resource, owner string) (bool, error) {
	current, held, err := l.OwnerOf(ctx, resource)
	if err != nil {
		return false, err
	}
	if !held || current != owner {
		return false, nil
	}
	if err := l.Release(ctx, resource); err != nil {
		return false, err
	}
	return true, nil
}

// Extend resets the lock's TTL. Returns false if the lock no longer exists.
func (l *LockStore) Extend(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	ok, err := l.m.store.Expire(ctx, l.m.key(kindLock, resource), ttl)
	if err != nil {
		return false, fmt.Errorf("failed to extend lock %s: %w", resource, err)
	}
	return ok, nil
}

// IsLocked reports whether any owner currently holds resource.
func (l *LockStore) IsLocked(ctx context.Context, resource string) (bool, error) {
	_, held, err := l.OwnerOf(ctx, resource)
	return held, err
}

// OwnerOf returns the current owner value of the lock, if held.
func (l *LockStore) OwnerOf(ctx context.Context, resource string) (string, bool, error) {
	owner, ok, err := l.m.store.Get(ctx, l.m.key(kindLock, resource))
	if err != nil {
		return "", false, fmt.Errorf("failed to inspect lock %s: %w", resource, err)
	}
	return owner, ok, nil
}
