package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Session is a generic distributed record shared between containers: which
// process owns an operation, where it stands, and arbitrary fields the
// operation needs to hand between stages. TTL is refreshed on every update so
// a crashed owner's sessions age out on their own.
type Session struct {
	ID             string         `json:"id"`
	Fields         map[string]any `json:"fields"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	TTLSeconds     int64          `json:"ttl_seconds"`
	OwnerContainer string         `json:"owner_container"`
}

// Stage reads the session's status field as a lifecycle stage. The boolean
// reports whether the field is present and names a known stage.
func (s *Session) Stage() (Stage, bool) {
	raw, ok := s.Fields["status"].(string)
	if !ok {
		return "", false
	}
	return ParseStage(raw)
}

// SessionStore is the session primitive family.
type SessionStore struct {
	m *Manager
}

// Create writes a new session owned by the given container.
func (s *SessionStore) Create(ctx context.Context, id string, fields map[string]any, ttl time.Duration, owner string) (*Session, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	now := s.m.clock()
	sess := &Session{
		ID:             id,
		Fields:         fields,
		CreatedAt:      now,
		UpdatedAt:      now,
		TTLSeconds:     int64(ttl / time.Second),
		OwnerContainer: owner,
	}
	if err := s.write(ctx, sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session, if it exists.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, bool, error) {
	raw, ok, err := s.m.store.Get(ctx, s.m.key(kindSession, id))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, false, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &sess, true, nil
}

// Update merges partial into the session's fields and refreshes updated_at.
// When extendTTL is set the new TTL is derived from the session's (possibly
// just-updated) status field via the stage TTL table; otherwise the session
// keeps its original TTL, restarted from now.
func (s *SessionStore) Update(ctx context.Context, id string, partial map[string]any, extendTTL bool) (*Session, error) {
	sess, ok, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s does not exist", id)
	}

	for k, v := range partial {
		sess.Fields[k] = v
	}
	sess.UpdatedAt = s.m.clock()

	ttl := time.Duration(sess.TTLSeconds) * time.Second
	if extendTTL {
		if stage, ok := sess.Stage(); ok {
			ttl = TTLFor(stage)
		}
		sess.TTLSeconds = int64(ttl / time.Second)
	}

	if err := s.write(ctx, sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.m.store.Del(ctx, s.m.key(kindSession, id))
}

// ListAll returns every live session in the namespace.
func (s *SessionStore) ListAll(ctx context.Context) ([]*Session, error) {
	keys, err := s.m.store.Keys(ctx, s.m.keyPrefix(kindSession))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*Session, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Expired between scan and read.
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			s.m.logger.Warn("skipping corrupt session", "key", key, "error", err)
			continue
		}
		sessions = append(sessions, &sess)
	}
	return sessions, nil
}

func (s *SessionStore) write(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	if err := s.m.store.Set(ctx, s.m.key(kindSession, sess.ID), string(raw), ttl); err != nil {
		return fmt.Errorf("failed to write session %s: %w", sess.ID, err)
	}
	return nil
}
