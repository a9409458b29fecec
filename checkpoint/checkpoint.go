// Package checkpoint stores the last completed state of each generation run
// so that an interrupted run can resume from its last stage.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docutag/writer/models"
)

// Store associates run identifiers with their last checkpointed state.
// Get returns (nil, nil) for unknown runs. Implementations serialize
// writes per run and never expose a partially written state.
type Store interface {
	Get(ctx context.Context, runID string) (*models.PipelineState, error)
	Put(ctx context.Context, state *models.PipelineState) error
}

// KeyedMutex provides one mutex per key. Entries are released when the
// last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its unlock function
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// MemoryStore keeps serialized snapshots in memory. Snapshots are copied
// in and out so callers never share state with the store.
type MemoryStore struct {
	keys KeyedMutex

	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

// Get returns a copy of the checkpoint for runID
func (m *MemoryStore) Get(ctx context.Context, runID string) (*models.PipelineState, error) {
	m.mu.RLock()
	data, ok := m.snapshots[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var state models.PipelineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", runID, err)
	}
	return &state, nil
}

// Put replaces the checkpoint for state.RunID
func (m *MemoryStore) Put(ctx context.Context, state *models.PipelineState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("checkpoint requires a run id")
	}

	unlock := m.keys.Lock(state.RunID)
	defer unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", state.RunID, err)
	}

	m.mu.Lock()
	m.snapshots[state.RunID] = data
	m.mu.Unlock()
	return nil
}

// Delete removes the checkpoint for runID
func (m *MemoryStore) Delete(ctx context.Context, runID string) error {
	unlock := m.keys.Lock(runID)
	defer unlock()

	m.mu.Lock()
	delete(m.snapshots, runID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored checkpoints
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
