package cartflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunNotFound is returned by Store.Load for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run status constants.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusCompensated = "compensated"
	RunStatusFailed      = "failed"
)

// TerminalStatus reports whether a run status is terminal.
func TerminalStatus(status string) bool {
	switch status {
	case RunStatusCompleted, RunStatusCompensated, RunStatusFailed:
		return true
	default:
		return false
	}
}

// CompletedNode records a plan node that has finished, along with its
// output for use by dependent steps, compensation and resume.
type CompletedNode struct {
	Name        NodeName        `json:"name"`
	Output      json.RawMessage `json:"output,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// RunState is the persisted journal of a saga run: everything needed to
// resume it from any suspension point without re-executing completed nodes.
type RunState struct {
	RunID     string          `json:"run_id"`
	Saga      SagaName        `json:"saga"`
	Status    string          `json:"status"`
	Params    json.RawMessage `json:"params"`
	Completed []CompletedNode `json:"completed,omitempty"`

	// Timers maps timer node names to their wake deadlines.  A recorded
	// deadline is honored across restarts: resume sleeps only the remainder.
	Timers map[NodeName]time.Time `json:"timers,omitempty"`

	// Result is the terminal outcome token, set once the run finishes.
	Result string `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists run state.
type Store interface {
	// Save persists the current run state.
	Save(ctx context.Context, state RunState) error

	// Load retrieves a run state by ID.
	Load(ctx context.Context, runID string) (*RunState, error)

	// List returns all persisted run states.
	List(ctx context.Context) ([]RunState, error)

	// Delete removes a run state.
	Delete(ctx context.Context, runID string) error
}

// MemoryStore provides an in-memory Store for tests and scenarios where
// durability is not required.
type MemoryStore struct {
	states map[string]*RunState
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*RunState),
	}
}

// Save stores the run state in memory.
func (m *MemoryStore) Save(ctx context.Context, state RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stateCopy := state
	stateCopy.UpdatedAt = time.Now()
	m.states[state.RunID] = &stateCopy
	return nil
}

// Load retrieves the run state from memory.
func (m *MemoryStore) Load(ctx context.Context, runID string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}

	stateCopy := *state
	return &stateCopy, nil
}

// List returns all run states in memory.
func (m *MemoryStore) List(ctx context.Context) ([]RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]RunState, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, *state)
	}
	return states, nil
}

// Delete removes the run state from memory.
func (m *MemoryStore) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, runID)
	return nil
}
