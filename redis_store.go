package cartflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	redisRunKeyPrefix = "cartflow:run:"
	redisRunIndexKey  = "cartflow:runs"
)

// RedisStore persists run state in Redis, for deployments where runs must
// survive a process restart without a shared filesystem.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by a new Redis client.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{client: redis.NewClient(opts)}
}

// NewRedisStoreWithClient creates a store backed by an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Save persists the run state as a JSON value and indexes the run ID.
func (s *RedisStore) Save(ctx context.Context, state RunState) error {
	state.UpdatedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, runKey(state.RunID), data, 0)
		pipe.SAdd(ctx, redisRunIndexKey, state.RunID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// Load retrieves a run state by ID.
func (s *RedisStore) Load(ctx context.Context, runID string) (*RunState, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}

// List returns every indexed run state.
func (s *RedisStore) List(ctx context.Context) ([]RunState, error) {
	runIDs, err := s.client.SMembers(ctx, redisRunIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	states := make([]RunState, 0, len(runIDs))
	for _, runID := range runIDs {
		state, err := s.Load(ctx, runID)
		if errors.Is(err, ErrRunNotFound) {
			// Index entry outlived the value; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, nil
}

// Delete removes a run state and its index entry.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, runKey(runID))
		pipe.SRem(ctx, redisRunIndexKey, runID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete run state: %w", err)
	}
	return nil
}

func runKey(runID string) string {
	return redisRunKeyPrefix + runID
}
