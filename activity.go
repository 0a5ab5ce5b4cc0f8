package cartflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tidwall/btree"
)

// ActivityName identifies an externally-owned capability that a saga step
// delegates to.
type ActivityName string

// Activity is one externally-delegated unit of work within a saga.
type Activity interface {
	// Execute performs a single attempt.  The returned output must be
	// JSON-serializable; it is recorded for dependent steps and for resume.
	Execute(ctx context.Context, sc *StepContext) (any, error)

	// Name returns the activity's registered name.
	Name() ActivityName
}

// StepContext provides a step attempt with the saga's immutable input and
// the recorded outputs of earlier steps.
type StepContext struct {
	RunID string
	Saga  SagaName
	Node  NodeName

	params  json.RawMessage
	outputs *btree.Map[NodeName, json.RawMessage]
}

// Params unmarshals the saga's input record into v.
func (sc *StepContext) Params(v any) error {
	if len(sc.params) == 0 {
		return fmt.Errorf("step %s: saga has no params", sc.Node)
	}
	if err := json.Unmarshal(sc.params, v); err != nil {
		return fmt.Errorf("step %s: unmarshal params: %w", sc.Node, err)
	}
	return nil
}

// Output unmarshals the recorded output of an earlier node into v.
func (sc *StepContext) Output(node NodeName, v any) error {
	raw, ok := sc.outputs.Get(node)
	if !ok {
		return fmt.Errorf("step %s: no recorded output for node %q", sc.Node, node)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("step %s: unmarshal output of node %q: %w", sc.Node, node, err)
	}
	return nil
}

// HasOutput reports whether an earlier node has a recorded output.
func (sc *StepContext) HasOutput(node NodeName) bool {
	_, ok := sc.outputs.Get(node)
	return ok
}

// ExecuteFunc is the function form of a single activity attempt.
type ExecuteFunc func(ctx context.Context, sc *StepContext) (any, error)

// ActivityFunc is an Activity implementation backed by an ordinary function.
type ActivityFunc struct {
	name ActivityName
	fn   ExecuteFunc
}

// NewActivityFunc constructs an ActivityFunc.
func NewActivityFunc(name ActivityName, fn ExecuteFunc) *ActivityFunc {
	return &ActivityFunc{name: name, fn: fn}
}

// Execute implements the Activity interface for ActivityFunc.
func (a *ActivityFunc) Execute(ctx context.Context, sc *StepContext) (any, error) {
	out, err := a.fn(ctx, sc)
	if err != nil {
		return nil, err
	}

	// Validate that the output can be recorded.
	if _, merr := json.Marshal(out); merr != nil {
		return nil, fmt.Errorf("activity %s: output not serializable: %w", a.name, merr)
	}
	return out, nil
}

// Name implements the Activity interface for ActivityFunc.
func (a *ActivityFunc) Name() ActivityName {
	return a.name
}

// ActivityRegistry maps activity names to implementations.
//
// Activities are registered once and shared across sagas.  Saga plans refer
// to activities only by name, which is what lets a run be reloaded from
// persistent storage: the concrete implementation is recovered from the
// registry, never from the stored state.
type ActivityRegistry struct {
	activities *xsync.MapOf[ActivityName, Activity]
}

// NewActivityRegistry creates an empty registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		activities: xsync.NewMapOf[ActivityName, Activity](),
	}
}

// Register adds an activity to the registry.
func (r *ActivityRegistry) Register(activity Activity) error {
	if _, ok := r.activities.Load(activity.Name()); ok {
		return fmt.Errorf("activity %q already registered", activity.Name())
	}
	r.activities.Store(activity.Name(), activity)
	return nil
}

// Get retrieves an activity by name.
func (r *ActivityRegistry) Get(name ActivityName) (Activity, error) {
	activity, ok := r.activities.Load(name)
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", name)
	}
	return activity, nil
}
