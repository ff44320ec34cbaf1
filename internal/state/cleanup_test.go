package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_RemovesOldTerminalRecordsOnly(t *testing.T) {
	m, mem := newTestManager(t)
	ctx := context.Background()

	start := time.Now()
	now := start
	clock := func() time.Time { return now }
	mem.SetClock(clock)
	m.SetClock(clock)

	_, err := m.Status.Set(ctx, "old-done", StageCompleted, nil)
	require.NoError(t, err)
	_, err = m.Status.Set(ctx, "old-active", StageProcessing, nil)
	require.NoError(t, err)
	_, err = m.Sessions.Create(ctx, "old-done-session",
		map[string]any{"status": "failed"}, 48*time.Hour, "container-a")
	require.NoError(t, err)
	_, err = m.Sessions.Create(ctx, "old-active-session",
		map[string]any{"status": "downloading"}, 48*time.Hour, "container-a")
	require.NoError(t, err)

	// Move inside every TTL but past the sweep age, then add one fresh
	// terminal record that must survive.
	now = start.Add(10 * time.Minute)
	_, err = m.Status.Set(ctx, "fresh-done", StageCompleted, nil)
	require.NoError(t, err)

	deleted, err := m.Sweep(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, found, err := m.Status.Get(ctx, "old-done")
	require.NoError(t, err)
	assert.False(t, found, "old terminal status should be swept")

	_, found, err = m.Status.Get(ctx, "old-active")
	require.NoError(t, err)
	assert.True(t, found, "active records are never swept")

	_, found, err = m.Status.Get(ctx, "fresh-done")
	require.NoError(t, err)
	assert.True(t, found, "recent terminal records are kept")

	_, found, err = m.Sessions.Get(ctx, "old-done-session")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.Sessions.Get(ctx, "old-active-session")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunCleanup_StopsOnContextCancel(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunCleanup(ctx, 10*time.Millisecond, time.Minute)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop on cancellation")
	}
}
