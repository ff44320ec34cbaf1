package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Key kinds, one per primitive family.
const (
	kindSession = "session"
	kindLock    = "lock"
	kindStatus  = "status"
	kindSet     = "set"
	kindCounter = "counter"
)

// Manager is the namespaced entry point to the five primitive families.
// Construct one per process and pass it by reference; every family shares the
// same store and namespace.
type Manager struct {
	Sessions *SessionStore
	Locks    *LockStore
	Status   *StatusStore
	Sets     *SetStore
	Counters *CounterStore

	ns     string
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewManager creates a Manager whose keys all live under the given namespace.
func NewManager(namespace string, store Store, logger *slog.Logger) *Manager {
	m := &Manager{
		ns:     namespace,
		store:  store,
		logger: logger.With("component", "state_manager", "namespace", namespace),
		clock:  time.Now,
	}
	m.Sessions = &SessionStore{m: m}
	m.Locks = &LockStore{m: m}
	m.Status = &StatusStore{m: m}
	m.Sets = &SetStore{m: m}
	m.Counters = &CounterStore{m: m}
	return m
}

// SetClock replaces the time source used for created_at/updated_at stamps and
// the cleanup sweep. Tests use it to control age-based behavior.
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Ping reports whether the underlying store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// key builds the canonical {namespace}:{kind}:{id} layout.
func (m *Manager) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", m.ns, kind, id)
}

// keyPrefix is the scan prefix for one kind.
func (m *Manager) keyPrefix(kind string) string {
	return fmt.Sprintf("%s:%s:", m.ns, kind)
}
