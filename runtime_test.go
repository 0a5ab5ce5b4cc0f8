package cartflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartUnknownSaga(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	_, err := rt.Start(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, `saga "nope" not registered`)
}

func TestRegisterSagaRejectsDuplicates(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	plan := mustPlan(t, "dup", nil, &TimerNode{Name: "pause", Duration: time.Second})

	require.NoError(t, rt.RegisterSaga(plan))
	assert.ErrorContains(t, rt.RegisterSaga(plan), "already registered")
}

func TestDetachSpawnsChildExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	rt, rec := newTestRuntime(t, store)
	registerEcho(t, rt, rec, "a.parent", "parent-token")
	registerEcho(t, rt, rec, "a.child", "child-token")

	child := mustPlan(t, "child", []NodeName{"work"},
		&StepNode{Name: "work", Activity: "a.child", Policy: BoundedPolicy()},
	)
	parent := mustPlan(t, "parent", []NodeName{"work", "spawn"},
		&StepNode{Name: "work", Activity: "a.parent", Policy: BoundedPolicy()},
		&DetachNode{Name: "spawn", Saga: "child"},
	)
	require.NoError(t, rt.RegisterSaga(child))
	require.NoError(t, rt.RegisterSaga(parent))

	outcome, err := rt.Start(context.Background(), "parent", nil)
	require.NoError(t, err)
	rt.Wait()

	// The token's last segment is the child run ID.
	var childRunID string
	state, err := store.Load(context.Background(), outcome.RunID)
	require.NoError(t, err)
	for _, node := range state.Completed {
		if node.Name == "spawn" {
			require.NoError(t, json.Unmarshal(node.Output, &childRunID))
		}
	}
	require.NotEmpty(t, childRunID)

	childState, err := store.Load(context.Background(), childRunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, childState.Status)
	assert.Equal(t, "child-token", childState.Result)

	assert.Equal(t, 1, rec.count("a.child"))

	states, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, states, 2, "one parent run, one child run")
}

func TestDetachSurvivesParentCancellation(t *testing.T) {
	store := NewMemoryStore()
	rt, rec := newTestRuntime(t, store)

	release := make(chan struct{})
	require.NoError(t, rt.Activities().Register(NewActivityFunc("a.slow_child",
		func(ctx context.Context, sc *StepContext) (any, error) {
			select {
			case <-release:
				return "child-token", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})))
	registerEcho(t, rt, rec, "a.parent", "parent-token")

	child := mustPlan(t, "child", []NodeName{"work"},
		&StepNode{Name: "work", Activity: "a.slow_child", Policy: BoundedPolicy()},
	)
	parent := mustPlan(t, "parent", nil,
		&StepNode{Name: "work", Activity: "a.parent", Policy: BoundedPolicy()},
		&DetachNode{Name: "spawn", Saga: "child"},
	)
	require.NoError(t, rt.RegisterSaga(child))
	require.NoError(t, rt.RegisterSaga(parent))

	ctx, cancel := context.WithCancel(context.Background())
	_, err := rt.Start(ctx, "parent", nil)
	require.NoError(t, err)

	// The parent's caller goes away; the child keeps running.
	cancel()
	close(release)
	rt.Wait()

	states, err := store.List(context.Background())
	require.NoError(t, err)
	for _, state := range states {
		if state.Saga == "child" {
			assert.Equal(t, RunStatusCompleted, state.Status)
			assert.Equal(t, "child-token", state.Result)
		}
	}
}

func TestRecoverPendingResumesOnlyRunningRuns(t *testing.T) {
	store := NewMemoryStore()
	rt, rec := newTestRuntime(t, store)
	registerEcho(t, rt, rec, "a.one", "one-token")

	plan := mustPlan(t, "solo", []NodeName{"one"},
		&StepNode{Name: "one", Activity: "a.one", Policy: BoundedPolicy()},
	)
	require.NoError(t, rt.RegisterSaga(plan))

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, RunState{
		RunID: "run-pending", Saga: "solo", Status: RunStatusRunning,
		Params: []byte(`{}`), CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Save(ctx, RunState{
		RunID: "run-done", Saga: "solo", Status: RunStatusCompleted,
		Params: []byte(`{}`), Result: "old-token", CreatedAt: time.Now(),
	}))

	outcomes, err := rt.RecoverPending(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "run-pending", outcomes[0].RunID)
	assert.Equal(t, RunStatusCompleted, outcomes[0].Status)
	assert.Equal(t, "one-token", outcomes[0].Token)
	assert.Equal(t, 1, rec.count("a.one"), "the completed run is left alone")
}
