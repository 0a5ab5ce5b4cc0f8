package cartflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/btree"
)

// instantSleep skips waits and counts them.
type instantSleep struct {
	calls int
}

func (s *instantSleep) sleep(ctx context.Context, d time.Duration) error {
	s.calls++
	return nil
}

func testStepContext() *StepContext {
	return &StepContext{
		RunID:   "run-1",
		Saga:    "test_saga",
		Node:    "step",
		params:  []byte(`{}`),
		outputs: btree.NewMap[NodeName, json.RawMessage](8),
	}
}

func TestInvokeRetriesUntilSuccess(t *testing.T) {
	sleeper := &instantSleep{}
	inv := NewInvoker(nil, sleeper.sleep)

	attempts := 0
	activity := NewActivityFunc("flaky", func(ctx context.Context, sc *StepContext) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("still warming up")
		}
		return "done", nil
	})

	out, err := inv.Invoke(context.Background(), testStepContext(), activity, 0, UnboundedPolicy())
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, sleeper.calls, "one backoff per failed attempt")
}

func TestInvokeStopsOnNonRetryableKind(t *testing.T) {
	sleeper := &instantSleep{}
	inv := NewInvoker(nil, sleeper.sleep)

	attempts := 0
	activity := NewActivityFunc("reject", func(ctx context.Context, sc *StepContext) (any, error) {
		attempts++
		return nil, Reject(KindInvalidCard, "card not found")
	})

	_, err := inv.Invoke(context.Background(), testStepContext(), activity, 0, BoundedPolicy())
	require.Error(t, err)
	assert.Equal(t, KindInvalidCard, KindOf(err))
	assert.Equal(t, 1, attempts, "rejections get exactly one attempt")
	assert.Equal(t, 0, sleeper.calls)
}

func TestInvokeExhaustsBoundedBudget(t *testing.T) {
	sleeper := &instantSleep{}
	inv := NewInvoker(nil, sleeper.sleep)

	attempts := 0
	lastErr := errors.New("service unavailable")
	activity := NewActivityFunc("down", func(ctx context.Context, sc *StepContext) (any, error) {
		attempts++
		return nil, lastErr
	})

	_, err := inv.Invoke(context.Background(), testStepContext(), activity, 0, BoundedPolicy())
	require.ErrorIs(t, err, lastErr, "the last observed error is surfaced unchanged")
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, sleeper.calls)
}

func TestInvokeAppliesPerAttemptTimeout(t *testing.T) {
	sleeper := &instantSleep{}
	inv := NewInvoker(nil, sleeper.sleep)

	activity := NewActivityFunc("slow", func(ctx context.Context, sc *StepContext) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := inv.Invoke(context.Background(), testStepContext(), activity, 5*time.Millisecond, BoundedPolicy())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTransient, KindOf(err), "timeouts are retried as transient")
}

func TestInvokeStopsWhenSleepFails(t *testing.T) {
	crash := errors.New("sleep interrupted")
	inv := NewInvoker(nil, func(ctx context.Context, d time.Duration) error {
		return crash
	})

	attempts := 0
	activity := NewActivityFunc("flaky", func(ctx context.Context, sc *StepContext) (any, error) {
		attempts++
		return nil, errors.New("nope")
	})

	_, err := inv.Invoke(context.Background(), testStepContext(), activity, 0, UnboundedPolicy())
	require.ErrorIs(t, err, crash)
	assert.Equal(t, 1, attempts)
}

func TestActivityFuncRejectsUnserializableOutput(t *testing.T) {
	activity := NewActivityFunc("bad_output", func(ctx context.Context, sc *StepContext) (any, error) {
		return make(chan int), nil
	})

	_, err := activity.Execute(context.Background(), testStepContext())
	assert.ErrorContains(t, err, "not serializable")
}
