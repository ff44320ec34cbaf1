package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Sweep deletes sessions and status records that are both in a terminal stage
// and older than maxAge. TTLs already bound how long anything can linger;
// the sweep is the safety net that reclaims records from crashed processes
// sooner and keeps list operations cheap. Returns how many records it
// deleted.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := m.clock().Add(-maxAge)
	deleted := 0

	sessions, err := m.Sessions.ListAll(ctx)
	if err != nil {
		return deleted, err
	}
	for _, sess := range sessions {
		stage, ok := sess.Stage()
		if !ok || !stage.Terminal() || sess.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.Sessions.Delete(ctx, sess.ID); err != nil {
			return deleted, err
		}
		deleted++
	}

	statusKeys, err := m.store.Keys(ctx, m.keyPrefix(kindStatus))
	if err != nil {
		return deleted, err
	}
	for _, key := range statusKeys {
		raw, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return deleted, err
		}
		if !ok {
			continue
		}
		var rec StatusRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			m.logger.Warn("deleting corrupt status record", "key", key, "error", err)
			if err := m.store.Del(ctx, key); err != nil {
				return deleted, err
			}
			deleted++
			continue
		}
		if !rec.Stage.Terminal() || rec.UpdatedAt.After(cutoff) {
			continue
		}
		entity := strings.TrimPrefix(key, m.keyPrefix(kindStatus))
		if err := m.Status.Delete(ctx, entity); err != nil {
			return deleted, err
		}
		deleted++
	}

	return deleted, nil
}

// RunCleanup runs the sweep on a fixed interval until ctx is canceled. Sweep
// failures are logged and the loop continues; a store outage must not kill
// the janitor.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := m.Sweep(ctx, maxAge)
			if err != nil {
				m.logger.Error("cleanup sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				m.logger.Info("cleanup sweep removed stale records", "deleted", deleted)
			}
		}
	}
}
