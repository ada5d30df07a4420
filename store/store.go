// Package store provides persistence for per-user workflow state.
//
// State is partitioned by user and saved as one aggregate per user; the
// engine assumes single-writer-per-user. Backends: memory (development
// and testing), GORM/SQLite (durable single node), Redis (remote), and a
// two-tier local-first adapter that reconciles with a remote tier
// asynchronously.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dantwoashim/flowdeck/types"
)

// Common errors.
var (
	ErrStoreClosed = errors.New("store is closed")
)

// WorkflowState is the per-user aggregate the engine reads and writes.
// Slices are ordered by creation time (oldest first); listing accessors
// reverse where the contract is newest-first.
type WorkflowState struct {
	Workflows     []types.Workflow           `json:"workflows,omitempty"`
	Executions    []types.WorkflowExecution  `json:"executions,omitempty"`
	Artifacts     []types.WorkflowArtifact   `json:"artifacts,omitempty"`
	Notifications []types.WorkflowNotification `json:"notifications,omitempty"`
	Checkpoints   []types.CheckpointRequest  `json:"checkpoints,omitempty"`
	DeadLetters   []types.DeadLetterEntry    `json:"dead_letters,omitempty"`
	Changes       []types.ChangeRecord       `json:"changes,omitempty"`
}

// NewWorkflowState returns an empty aggregate.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{}
}

// Clone deep-copies the aggregate through its JSON representation, the
// same way the serialized backends round-trip it.
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out WorkflowState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	return &out, nil
}

// WorkflowByID finds a workflow in the aggregate, or nil.
func (s *WorkflowState) WorkflowByID(id string) *types.Workflow {
	for i := range s.Workflows {
		if s.Workflows[i].ID == id {
			return &s.Workflows[i]
		}
	}
	return nil
}

// ExecutionByID finds an execution in the aggregate, or nil.
func (s *WorkflowState) ExecutionByID(id string) *types.WorkflowExecution {
	for i := range s.Executions {
		if s.Executions[i].ID == id {
			return &s.Executions[i]
		}
	}
	return nil
}

// CheckpointByID finds a checkpoint request in the aggregate, or nil.
func (s *WorkflowState) CheckpointByID(id string) *types.CheckpointRequest {
	for i := range s.Checkpoints {
		if s.Checkpoints[i].ID == id {
			return &s.Checkpoints[i]
		}
	}
	return nil
}

// Store loads and saves per-user workflow state. Load returns an empty
// aggregate (never nil) for unknown users.
type Store interface {
	Load(ctx context.Context, userID string) (*WorkflowState, error)
	Save(ctx context.Context, userID string, state *WorkflowState) error
	Close() error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*WorkflowState
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*WorkflowState)}
}

// Load returns a deep copy of the user's state.
func (m *MemoryStore) Load(ctx context.Context, userID string) (*WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	state, ok := m.states[userID]
	if !ok {
		return NewWorkflowState(), nil
	}
	return state.Clone()
}

// Save stores a deep copy of the user's state.
func (m *MemoryStore) Save(ctx context.Context, userID string, state *WorkflowState) error {
	clone, err := state.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.states[userID] = clone
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
