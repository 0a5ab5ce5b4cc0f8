package cartflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists run state as one JSON file per run, so a run started
// by one process can be resumed by another after a crash.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a file-backed store rooted at the given directory.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{basePath: basePath}, nil
}

// Save persists the run state to a JSON file.
func (f *FileStore) Save(ctx context.Context, state RunState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := os.WriteFile(f.filename(state.RunID), data, 0644); err != nil {
		return fmt.Errorf("failed to write run state file: %w", err)
	}

	return nil
}

// Load retrieves the run state from its JSON file.
func (f *FileStore) Load(ctx context.Context, runID string) (*RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load(runID)
}

func (f *FileStore) load(runID string) (*RunState, error) {
	data, err := os.ReadFile(f.filename(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to read run state file: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// List returns every persisted run state in the store directory.
func (f *FileStore) List(ctx context.Context) ([]RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(f.basePath, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list run state files: %w", err)
	}

	states := make([]RunState, 0, len(files))
	for _, file := range files {
		runID := strings.TrimSuffix(filepath.Base(file), ".json")
		state, err := f.load(runID)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, nil
}

// Delete removes the run state file.
func (f *FileStore) Delete(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(runID)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete run state file: %w", err)
	}

	return nil
}

// filename returns the full path for a run's state file.
func (f *FileStore) filename(runID string) string {
	return filepath.Join(f.basePath, runID+".json")
}
