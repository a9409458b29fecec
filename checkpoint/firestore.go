package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docutag/writer/models"
)

// DefaultCollection holds run checkpoints in Firestore
const DefaultCollection = "writer_runs"

// firestoreRun is the stored document. The state is kept as a JSON string
// so the document mirrors the other backends byte for byte.
type firestoreRun struct {
	RunID     string    `firestore:"runId"`
	Keyword   string    `firestore:"keyword"`
	Stage     string    `firestore:"stage"`
	State     string    `firestore:"state"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore persists checkpoints as Firestore documents keyed by run id
type FirestoreStore struct {
	keys       KeyedMutex
	client     *firestore.Client
	collection string
}

// NewFirestoreClient creates a Firestore client for projectID
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewFirestoreStore creates a FirestoreStore. An empty collection uses DefaultCollection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection}
}

// Get reads the checkpoint for runID
func (f *FirestoreStore) Get(ctx context.Context, runID string) (*models.PipelineState, error) {
	snap, err := f.client.Collection(f.collection).Doc(runID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", runID, err)
	}

	var doc firestoreRun
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint document %s: %w", runID, err)
	}
	return decodeFirestoreRun(doc)
}

// Put overwrites the checkpoint document for state.RunID
func (f *FirestoreStore) Put(ctx context.Context, state *models.PipelineState) error {
	if state == nil || state.RunID == "" {
		return fmt.Errorf("checkpoint requires a run id")
	}

	unlock := f.keys.Lock(state.RunID)
	defer unlock()

	doc, err := encodeFirestoreRun(state)
	if err != nil {
		return err
	}
	if _, err := f.client.Collection(f.collection).Doc(state.RunID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", state.RunID, err)
	}
	return nil
}

func encodeFirestoreRun(state *models.PipelineState) (firestoreRun, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return firestoreRun{}, fmt.Errorf("failed to encode checkpoint %s: %w", state.RunID, err)
	}
	return firestoreRun{
		RunID:     state.RunID,
		Keyword:   state.Keyword,
		Stage:     string(state.Stage),
		State:     string(data),
		UpdatedAt: state.UpdatedAt,
	}, nil
}

func decodeFirestoreRun(doc firestoreRun) (*models.PipelineState, error) {
	var state models.PipelineState
	if err := json.Unmarshal([]byte(doc.State), &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", doc.RunID, err)
	}
	return &state, nil
}
