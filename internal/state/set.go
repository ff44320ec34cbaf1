package state

import (
	"context"
	"fmt"
)

// SetStore is the set primitive family, used for tracking partial
// collections across processes, e.g. which chunks of a multi-part upload have
// arrived.
type SetStore struct {
	m *Manager
}

// Add inserts members into the named set.
func (s *SetStore) Add(ctx context.Context, name string, members ...string) error {
	if err := s.m.store.SAdd(ctx, s.m.key(kindSet, name), members...); err != nil {
		return fmt.Errorf("failed to add to set %s: %w", name, err)
	}
	return nil
}

// Remove deletes members from the named set.
func (s *SetStore) Remove(ctx context.Context, name string, members ...string) error {
	if err := s.m.store.SRem(ctx, s.m.key(kindSet, name), members...); err != nil {
		return fmt.Errorf("failed to remove from set %s: %w", name, err)
	}
	return nil
}

// Members returns every member of the named set.
func (s *SetStore) Members(ctx context.Context, name string) ([]string, error) {
	members, err := s.m.store.SMembers(ctx, s.m.key(kindSet, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", name, err)
	}
	return members, nil
}

// Contains reports whether member is in the named set.
func (s *SetStore) Contains(ctx context.Context, name, member string) (bool, error) {
	ok, err := s.m.store.SIsMember(ctx, s.m.key(kindSet, name), member)
	if err != nil {
		return false, fmt.Errorf("failed to test set %s: %w", name, err)
	}
	return ok, nil
}

// Count returns the size of the named set.
func (s *SetStore) Count(ctx context.Context, name string) (int64, error) {
	n, err := s.m.store.SCard(ctx, s.m.key(kindSet, name))
	if err != nil {
		return 0, fmt.Errorf("failed to count set %s: %w", name, err)
	}
	return n, nil
}

// Clear removes the whole set.
func (s *SetStore) Clear(ctx context.Context, name string) error {
	return s.m.store.Del(ctx, s.m.key(kindSet, name))
}
