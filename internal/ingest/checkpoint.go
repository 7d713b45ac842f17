package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"rxsearch/internal/fault"
)

// checkpointKey is the Redis key holding the single ingest checkpoint. One
// ingest runs at a time; concurrent ingests would race on the offset and are
// not supported.
const checkpointKey = "ingest:checkpoint"

// Checkpoint records where a stopped ingest should resume and which rows it
// gave up on.
type Checkpoint struct {
	Offset          int       `json:"offset"`
	LastCompletedAt time.Time `json:"last_completed_at"`
	DeadLetter      []string  `json:"dead_letter,omitempty"`
}

// CheckpointStore persists the checkpoint in Redis so resumability survives
// process restarts.
type CheckpointStore struct {
	rdb *redis.Client
}

// NewCheckpointStore creates a CheckpointStore over rdb.
func NewCheckpointStore(rdb *redis.Client) *CheckpointStore {
	return &CheckpointStore{rdb: rdb}
}

// Save writes cp, replacing any previous checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fault.E(fault.Internal, "ingest.checkpoint", err)
	}
	if err := s.rdb.Set(ctx, checkpointKey, data, 0).Err(); err != nil {
		return fault.E(fault.UpstreamTransient, "ingest.checkpoint", err)
	}
	return nil
}

// Load returns the stored checkpoint; ok is false when none exists.
func (s *CheckpointStore) Load(ctx context.Context) (Checkpoint, bool, error) {
	data, err := s.rdb.Get(ctx, checkpointKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fault.E(fault.UpstreamTransient, "ingest.checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fault.E(fault.Internal, "ingest.checkpoint", err)
	}
	return cp, true, nil
}

// Clear removes the checkpoint. Called when a run scans to the end, so the
// next --resume starts a fresh pass.
func (s *CheckpointStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, checkpointKey).Err(); err != nil {
		return fault.E(fault.UpstreamTransient, "ingest.checkpoint", err)
	}
	return nil
}
