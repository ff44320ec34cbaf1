package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stage is a named step in a task's lifecycle. Stages are totally ordered;
// status updates that would move a task backwards are dropped, which keeps
// reported progress monotonic even when late writes arrive out of order.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageInitializing Stage = "initializing"
	StageDownloading  Stage = "downloading"
	StageProcessing   Stage = "processing"
	StageUploading    Stage = "uploading"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// stageRank orders the stages. StageFailed carries the highest rank so it is
// reachable from anywhere.
var stageRank = map[Stage]int{
	StageQueued:       0,
	StageInitializing: 1,
	StageDownloading:  2,
	StageProcessing:   3,
	StageUploading:    4,
	StageCompleted:    5,
	StageFailed:       6,
}

// stageTTL maps every stage to the retention of its status records: finished
// work ages out quickly, failures stick around long enough to debug, and
// in-flight records outlive any plausible task so they never vanish under a
// running worker.
var stageTTL = map[Stage]time.Duration{
	StageQueued:       24 * time.Hour,
	StageInitializing: 24 * time.Hour,
	StageDownloading:  24 * time.Hour,
	StageProcessing:   24 * time.Hour,
	StageUploading:    24 * time.Hour,
	StageCompleted:    15 * time.Minute,
	StageFailed:       time.Hour,
}

func init() {
	// Both tables must cover every stage; a partial table would silently
	// give some stage a zero TTL.
	for stage := range stageRank {
		if _, ok := stageTTL[stage]; !ok {
			panic(fmt.Sprintf("state: stage %q has no TTL entry", stage))
		}
	}
	for stage := range stageTTL {
		if _, ok := stageRank[stage]; !ok {
			panic(fmt.Sprintf("state: stage %q has no rank entry", stage))
		}
	}
}

// Terminal reports whether the stage ends a task's lifecycle.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Known reports whether s is one of the defined stages.
func (s Stage) Known() bool {
	_, ok := stageRank[s]
	return ok
}

// TTLFor returns the retention for records in the given stage.
func TTLFor(stage Stage) time.Duration {
	ttl, ok := stageTTL[stage]
	if !ok {
		// Unknown stages get the failure retention: visible long enough
		// to notice, but not immortal.
		return stageTTL[StageFailed]
	}
	return ttl
}

// ParseStage normalizes a raw status string to a Stage. The boolean reports
// whether the value named a known stage.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Known()
}

// StatusRecord is the durable, shared view of one entity's lifecycle stage.
type StatusRecord struct {
	EntityID  string         `json:"entity_id"`
	Stage     Stage          `json:"stage"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusStore is the status primitive family.
type StatusStore struct {
	m *Manager
}

// Set writes the entity's stage with a stage-derived TTL. Updates are applied
// only when the new stage is at or past the current one, or when the new
// stage is terminal; anything else is a stale out-of-order write and is
// dropped, returning the record that remains current. Once an entity is
// terminal its record is frozen until deleted.
func (s *StatusStore) Set(ctx context.Context, entity string, stage Stage, metadata map[string]any) (*StatusRecord, error) {
	if !stage.Known() {
		return nil, fmt.Errorf("unknown stage %q for entity %s", stage, entity)
	}

	current, ok, err := s.Get(ctx, entity)
	if err != nil {
		return nil, err
	}
	if ok {
		if current.Stage.Terminal() {
			return current, nil
		}
		if !stage.Terminal() && stageRank[stage] < stageRank[current.Stage] {
			s.m.logger.Debug("dropping regressive status update",
				"entity_id", entity,
				"current_stage", current.Stage,
				"proposed_stage", stage)
			return current, nil
		}
	}

	rec := &StatusRecord{
		EntityID:  entity,
		Stage:     stage,
		Metadata:  metadata,
		UpdatedAt: s.m.clock(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status record: %w", err)
	}
	if err := s.m.store.Set(ctx, s.m.key(kindStatus, entity), string(raw), TTLFor(stage)); err != nil {
		return nil, fmt.Errorf("failed to write status for %s: %w", entity, err)
	}
	return rec, nil
}

// Get returns the entity's current status record, if any.
func (s *StatusStore) Get(ctx context.Context, entity string) (*StatusRecord, bool, error) {
	raw, ok, err := s.m.store.Get(ctx, s.m.key(kindStatus, entity))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read status for %s: %w", entity, err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec StatusRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("corrupt status record for %s: %w", entity, err)
	}
	return &rec, true, nil
}

// Delete removes the entity's status record. Resubmission of a terminal task
// goes through here so the fresh run starts from a clean record.
func (s *StatusStore) Delete(ctx context.Context, entity string) error {
	return s.m.store.Del(ctx, s.m.key(kindStatus, entity))
}
