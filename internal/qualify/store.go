package qualify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadhound/qualifier/internal/kv"
)

const (
	runKeyPrefix = "qualify:run:"
	// runTTL keeps finished and abandoned runs around for a day.
	runTTL = 24 * time.Hour
)

// RunStore persists run state as JSON blobs in the injected key-value
// store.
type RunStore struct {
	store kv.Store
}

func NewRunStore(store kv.Store) *RunStore {
	return &RunStore{store: store}
}

func runKey(id string) string { return runKeyPrefix + id }

// Save writes the full run state, refreshing its TTL.
func (s *RunStore) Save(ctx context.Context, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := s.store.Set(ctx, runKey(state.ID), data, runTTL); err != nil {
		return fmt.Errorf("save run %s: %w", state.ID, err)
	}
	return nil
}

// Load reads a run state; ErrRunNotFound when the key is missing or
// expired.
func (s *RunStore) Load(ctx context.Context, id string) (*RunState, error) {
	data, ok, err := s.store.Get(ctx, runKey(id))
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if !ok {
		return nil, ErrRunNotFound
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &state, nil
}

// Delete removes a run's persisted state.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, runKey(id))
}

// ListIDs returns the IDs of all persisted runs.
func (s *RunStore) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.ScanKeys(ctx, runKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(runKeyPrefix):])
	}
	return ids, nil
}
