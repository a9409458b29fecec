package checkpoint

import (
	"context"
	"fmt"

	"github.com/docutag/writer/models"
)

// RunStateDB is the subset of *db.DB used by SQLStore
type RunStateDB interface {
	SaveRunState(ctx context.Context, state *models.PipelineState) error
	LoadRunState(ctx context.Context, runID string) (*models.PipelineState, error)
}

// SQLStore persists checkpoints in the writer_run_states table
type SQLStore struct {
	keys KeyedMutex
	db   RunStateDB
}

// NewSQLStore creates a SQLStore backed by database
func NewSQLStore(database RunStateDB) *SQLStore {
	return &SQLStore{db: database}
}

// Get loads the checkpoint for runID
func (s *SQLStore) Get(ctx context.Context, runID string) (*models.PipelineState, error) {
	state, err := s.db.LoadRunState(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}
	return state, nil
}

// Put upserts the checkpoint for state.RunID in a single statement
func (s *SQLStore) Put(ctx context.Context, state *models.PipelineState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("checkpoint requires a run id")
	}

	unlock := s.keys.Lock(state.RunID)
	defer unlock()

	if err := s.db.SaveRunState(ctx, state); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", state.RunID, err)
	}
	return nil
}
