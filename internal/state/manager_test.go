package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()

	_, err := m.Status.Set(ctx, "abc", StageQueued, nil)
	require.NoError(t, err)

	_, found, err := mem.Get(ctx, "test:status:abc")
	require.NoError(t, err)
	assert.True(t, found, "keys must follow {namespace}:{kind}:{id}")
}

func TestLockStore_AcquireIsExclusive(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ok, err := m.Locks.Acquire(ctx, "track-1/voice", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Locks.Acquire(ctx, "track-1/voice", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire of a held lock must fail")

	owner, held, err := m.Locks.OwnerOf(ctx, "track-1/voice")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "owner-a", owner)
}

func TestLockStore_ReleaseMakesResourceAvailable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ok, err := m.Locks.Acquire(ctx, "track-1/voice", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Locks.Release(ctx, "track-1/voice"))

	locked, err := m.Locks.IsLocked(ctx, "track-1/voice")
	require.NoError(t, err)
	assert.False(t, locked)

	ok, err = m.Locks.Acquire(ctx, "track-1/voice", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockStore_ReleaseIfOwner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Locks.Acquire(ctx, "r", "owner-a", time.Minute)
	require.NoError(t, err)

	removed, err := m.Locks.ReleaseIfOwner(ctx, "r", "owner-b")
	require.NoError(t, err)
	assert.False(t, removed, "a non-owner must not release the lock")

	removed, err = m.Locks.ReleaseIfOwner(ctx, "r", "owner-a")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestLockStore_TTLExpiryFreesCrashedOwner(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()

	now := time.Now()
	clock := func() time.Time { return now }
	mem.SetClock(clock)
	m.SetClock(clock)

	ok, err := m.Locks.Acquire(ctx, "r", "crashed-owner", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	ok, err = m.Locks.Acquire(ctx, "r", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired locks must be acquirable")
}

func TestLockStore_Extend(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()

	now := time.Now()
	clock := func() time.Time { return now }
	mem.SetClock(clock)
	m.SetClock(clock)

	_, err := m.Locks.Acquire(ctx, "r", "owner-a", time.Minute)
	require.NoError(t, err)

	ok, err := m.Locks.Extend(ctx, "r", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(5 * time.Minute)

	locked, err := m.Locks.IsLocked(ctx, "r")
	require.NoError(t, err)
	assert.True(t, locked, "extended lock must outlive its original TTL")

	ok, err = m.Locks.Extend(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetStore(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Sets.Add(ctx, "upload-42:chunks", "c-1", "c-2", "c-3"))

	n, err := m.Sets.Count(ctx, "upload-42:chunks")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ok, err := m.Sets.Contains(ctx, "upload-42:chunks", "c-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Sets.Remove(ctx, "upload-42:chunks", "c-2"))

	ok, err = m.Sets.Contains(ctx, "upload-42:chunks", "c-2")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := m.Sets.Members(ctx, "upload-42:chunks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c-1", "c-3"}, members)
}

func TestCounterStore(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	n, err := m.Counters.Get(ctx, "active-workers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "missing counters read as zero")

	n, err = m.Counters.Increment(ctx, "active-workers")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Counters.IncrementBy(ctx, "active-workers", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = m.Counters.Decrement(ctx, "active-workers")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, m.Counters.Reset(ctx, "active-workers"))

	n, err = m.Counters.Get(ctx, "active-workers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
