// Package lock provides business-level mutual exclusion on top of the state
// manager's lock primitive. Exactly one caller across the whole fleet may
// hold a resource at a time; contention is a normal outcome reported with a
// reason, not an error.
//
// Acquisition returns an owned Handle. Whichever function ends up holding the
// Handle is the one responsible for Release; passing the Handle is the
// explicit form of "a downstream stage will unlock this". Release is guarded
// so a second call is a no-op rather than a double-free.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/cadenza/internal/state"
)

// DefaultTTL bounds how long a crashed holder can keep a resource locked.
const DefaultTTL = 10 * time.Minute

// Key builds a composite resource key so that different sub-resources of the
// same entity (e.g. the same track's "voice" and "instrumental" renditions)
// can proceed concurrently while the same pair is serialized.
func Key(entity, subresource string) string {
	return entity + "/" + subresource
}

// holderRecord is the JSON value stored as the lock owner.
type holderRecord struct {
	Token      string            `json:"token"`
	Container  string            `json:"container"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	AcquiredAt time.Time         `json:"acquired_at"`
}

// Service acquires and releases resource locks for one container.
type Service struct {
	locks     *state.LockStore
	container string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewService creates a lock service. A zero ttl selects DefaultTTL.
func NewService(locks *state.LockStore, containerID string, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		locks:     locks,
		container: containerID,
		ttl:       ttl,
		logger:    logger.With("component", "resource_lock"),
	}
}

// TryLock attempts to acquire the resource. On success it returns a non-nil
// Handle and an empty reason. When the resource is already held it returns a
// nil Handle and a human-readable reason; callers must treat that as "busy,
// poll or retry later", not as a failure. Store errors are returned as
// errors: a lock whose store is unreachable cannot be trusted either way.
func (s *Service) TryLock(ctx context.Context, resource string, metadata map[string]string) (*Handle, string, error) {
	holder := holderRecord{
		Token:      uuid.NewString(),
		Container:  s.container,
		Metadata:   metadata,
		AcquiredAt: time.Now(),
	}
	raw, err := json.Marshal(holder)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode lock holder: %w", err)
	}

	acquired, err := s.locks.Acquire(ctx, resource, string(raw), s.ttl)
	if err != nil {
		return nil, "", err
	}
	if !acquired {
		reason := s.busyReason(ctx, resource)
		s.logger.Debug("lock contended", "resource", resource, "reason", reason)
		return nil, reason, nil
	}

	s.logger.Debug("lock acquired", "resource", resource, "token", holder.Token)
	return &Handle{
		svc:      s,
		resource: resource,
		value:    string(raw),
		token:    holder.Token,
	}, "", nil
}

// busyReason describes who holds the resource, for callers that surface the
// contention to users.
func (s *Service) busyReason(ctx context.Context, resource string) string {
	value, held, err := s.locks.OwnerOf(ctx, resource)
	if err != nil || !held {
		return "busy: resource is locked by another operation"
	}
	var holder holderRecord
	if err := json.Unmarshal([]byte(value), &holder); err != nil {
		return "busy: resource is locked by another operation"
	}
	return fmt.Sprintf("busy: locked by container %s since %s",
		holder.Container, holder.AcquiredAt.Format(time.RFC3339))
}

// IsLocked reports whether the resource is currently held by anyone.
func (s *Service) IsLocked(ctx context.Context, resource string) (bool, error) {
	return s.locks.IsLocked(ctx, resource)
}

// Handle is the owned token for one held lock. The holder of the Handle owns
// the release; there is no other way to release the lock short of TTL expiry.
type Handle struct {
	svc      *Service
	resource string
	value    string
	token    string

	once     sync.Once
	released bool
}

// Resource returns the locked resource key.
func (h *Handle) Resource() string {
	return h.resource
}

// Release drops the lock. It must run on every exit path of the critical
// section; success records whether the guarded work succeeded, which only
// affects logging here but lets call sites share one cleanup path for
// completion, failure and cancellation. Only the first call releases; later
// calls return nil without touching the store. The release verifies this
// handle still owns the lock, so a handle that outlived its TTL cannot
// delete a lock someone else has since acquired.
func (h *Handle) Release(ctx context.Context, success bool) error {
	var err error
	h.once.Do(func() {
		var removed bool
		removed, err = h.svc.locks.ReleaseIfOwner(ctx, h.resource, h.value)
		if err != nil {
			return
		}
		h.released = true
		if !removed {
			h.svc.logger.Warn("lock expired before release; another holder may have taken it",
				"resource", h.resource, "token", h.token)
			return
		}
		h.svc.logger.Debug("lock released",
			"resource", h.resource, "token", h.token, "success", success)
	})
	return err
}

// Extend refreshes the lock TTL for long critical sections. Returns false if
// the lock already expired.
func (h *Handle) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	owner, held, err := h.svc.locks.OwnerOf(ctx, h.resource)
	if err != nil {
		return false, err
	}
	if !held || owner != h.value {
		return false, nil
	}
	return h.svc.locks.Extend(ctx, h.resource, ttl)
}
