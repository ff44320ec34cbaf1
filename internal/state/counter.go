package state

import (
	"context"
	"fmt"
	"strconv"
)

// CounterStore is the counter primitive family: atomic cross-process
// increments, used for concurrency bookkeeping that spans containers.
type CounterStore struct {
	m *Manager
}

// Increment adds one to the counter and returns the new value.
func (c *CounterStore) Increment(ctx context.Context, name string) (int64, error) {
	return c.IncrementBy(ctx, name, 1)
}

// Decrement subtracts one from the counter and returns the new value.
func (c *CounterStore) Decrement(ctx context.Context, name string) (int64, error) {
	return c.IncrementBy(ctx, name, -1)
}

// IncrementBy adds delta to the counter atomically and returns the new
// value. A missing counter starts at zero.
func (c *CounterStore) IncrementBy(ctx context.Context, name string, delta int64) (int64, error) {
	n, err := c.m.store.IncrBy(ctx, c.m.key(kindCounter, name), delta)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust counter %s: %w", name, err)
	}
	return n, nil
}

// Get returns the counter's current value; a missing counter reads as zero.
func (c *CounterStore) Get(ctx context.Context, name string) (int64, error) {
	raw, ok, err := c.m.store.Get(ctx, c.m.key(kindCounter, name))
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", name, err)
	}
	return n, nil
}

// Reset deletes the counter, returning it to zero.
func (c *CounterStore) Reset(ctx context.Context, name string) error {
	return c.m.store.Del(ctx, c.m.key(kindCounter, name))
}
