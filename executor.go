package cartflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/btree"
)

// Outcome is the terminal value of a saga run: either the composed success
// token of its result nodes, or the compensation token produced while
// unwinding a partial failure.
type Outcome struct {
	RunID  string
	Status string // RunStatusCompleted or RunStatusCompensated
	Token  string
}

// executor drives a single saga run: strictly sequential node execution,
// per-node persistence, reverse-order compensation on exhausted failure,
// and resume that never re-executes a recorded node.
type executor struct {
	plan       *Plan
	activities *ActivityRegistry
	runtime    *Runtime
	store      Store
	invoker    *Invoker
	logger     *slog.Logger
	sleep      SleepFunc
	now        func() time.Time

	runID  string
	params json.RawMessage

	// Journal, mirrored to the store after every node.
	outputs   *btree.Map[NodeName, json.RawMessage]
	completed []CompletedNode
	done      map[NodeName]bool
	timers    map[NodeName]time.Time
	createdAt time.Time
}

// newExecutor creates an executor for a fresh run.
func (r *Runtime) newExecutor(plan *Plan, runID string, params json.RawMessage) *executor {
	return &executor{
		plan:       plan,
		activities: r.activities,
		runtime:    r,
		store:      r.store,
		invoker:    r.invoker,
		logger:     r.logger,
		sleep:      r.sleep,
		now:        r.now,
		runID:      runID,
		params:     params,
		outputs:    btree.NewMap[NodeName, json.RawMessage](8),
		done:       make(map[NodeName]bool),
		timers:     make(map[NodeName]time.Time),
		createdAt:  r.now(),
	}
}

// executorFromState rebuilds an executor from a persisted run.  Recorded
// node outputs are replayed into the journal; the nodes themselves are
// never re-executed.
func (r *Runtime) executorFromState(plan *Plan, state *RunState) *executor {
	e := r.newExecutor(plan, state.RunID, state.Params)
	e.createdAt = state.CreatedAt

	for _, node := range state.Completed {
		e.completed = append(e.completed, node)
		e.done[node.Name] = true
		if node.Output != nil {
			e.outputs.Set(node.Name, node.Output)
		}
	}
	for name, deadline := range state.Timers {
		e.timers[name] = deadline
	}
	return e
}

// Execute runs the saga to a terminal outcome.
//
// A context error leaves the run in the running state so that it can be
// resumed; every other exhausted step failure either unwinds through the
// completed steps' compensations or fails the run.
func (e *executor) Execute(ctx context.Context) (Outcome, error) {
	if err := e.persist(ctx, RunStatusRunning, ""); err != nil {
		return Outcome{}, fmt.Errorf("failed to save initial run state: %w", err)
	}

	order, err := e.plan.order()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to get execution order: %w", err)
	}

	for _, nodeID := range order {
		switch node := e.plan.nodes[nodeID].(type) {
		case startNode, endNode:
			continue
		case *StepNode:
			if e.done[node.Name] {
				continue
			}
			if err := e.executeStep(ctx, node); err != nil {
				if ctx.Err() != nil {
					// Interrupted, not failed: the run stays resumable.
					return Outcome{}, err
				}
				return e.unwind(ctx, node, err)
			}
		case *TimerNode:
			if e.done[node.Name] {
				continue
			}
			if err := e.executeTimer(ctx, node); err != nil {
				return Outcome{}, err
			}
		case *DetachNode:
			if e.done[node.Name] {
				continue
			}
			if err := e.executeDetach(ctx, node); err != nil {
				e.persistWarn(ctx, RunStatusFailed, "")
				return Outcome{}, err
			}
		default:
			return Outcome{}, fmt.Errorf("plan %s: unrecognised node type %T", e.plan.Saga, node)
		}
	}

	token, err := e.composeResult()
	if err != nil {
		return Outcome{}, err
	}
	e.persistWarn(ctx, RunStatusCompleted, token)
	return Outcome{RunID: e.runID, Status: RunStatusCompleted, Token: token}, nil
}

// executeStep invokes a step's activity under its policy and records the
// output.
func (e *executor) executeStep(ctx context.Context, node *StepNode) error {
	activity, err := e.activities.Get(node.Activity)
	if err != nil {
		return err
	}

	out, err := e.invoker.Invoke(ctx, e.stepContext(node.Name), activity, node.Timeout, node.Policy)
	if err != nil {
		return err
	}
	return e.record(ctx, node.Name, out)
}

// executeTimer suspends the run until the node's wake deadline.  The
// deadline is persisted before sleeping, so a restarted process sleeps only
// the remainder.
func (e *executor) executeTimer(ctx context.Context, node *TimerNode) error {
	deadline, recorded := e.timers[node.Name]
	if !recorded {
		deadline = e.now().Add(node.Duration)
		e.timers[node.Name] = deadline
		e.persistWarn(ctx, RunStatusRunning, "")
	}

	if remaining := deadline.Sub(e.now()); remaining > 0 {
		e.logger.Info("run suspended on timer",
			"saga", e.plan.Saga,
			"run_id", e.runID,
			"timer", node.Name,
			"wake_at", deadline,
		)
		if err := e.sleep(ctx, remaining); err != nil {
			return fmt.Errorf("timer %s interrupted: %w", node.Name, err)
		}
	}
	return e.record(ctx, node.Name, nil)
}

// executeDetach starts the child saga and records its handle.  Because the
// handle is recorded like any other output, a resumed run never spawns the
// child a second time.
func (e *executor) executeDetach(ctx context.Context, node *DetachNode) error {
	handle, err := e.runtime.StartDetached(ctx, node.Saga, e.params)
	if err != nil {
		return fmt.Errorf("failed to start detached saga %s: %w", node.Saga, err)
	}
	return e.record(ctx, node.Name, handle.String())
}

// unwind runs the compensations of completed steps in reverse order.  With
// no compensable steps the original failure is surfaced as-is; otherwise
// the joined compensation token becomes the run's terminal outcome.
func (e *executor) unwind(ctx context.Context, failed *StepNode, stepErr error) (Outcome, error) {
	var tokens []string
	compensated := false

	for i := len(e.completed) - 1; i >= 0; i-- {
		step, ok := e.plan.stepByName(e.completed[i].Name)
		if !ok || step.Compensation == nil {
			continue
		}
		compensated = true

		token, err := e.compensateStep(ctx, step)
		if err != nil {
			e.persistWarn(ctx, RunStatusFailed, "")
			return Outcome{}, fmt.Errorf(
				"step %s failed and compensation of %s failed: step_error=%v, compensation_error=%w",
				failed.Name, step.Name, stepErr, err,
			)
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}

	if !compensated {
		e.persistWarn(ctx, RunStatusFailed, "")
		return Outcome{}, fmt.Errorf("saga %s failed at step %s: %w", e.plan.Saga, failed.Name, stepErr)
	}

	result := strings.Join(tokens, " | ")
	e.persistWarn(ctx, RunStatusCompensated, result)
	e.logger.Info("run compensated",
		"saga", e.plan.Saga,
		"run_id", e.runID,
		"failed_step", failed.Name,
	)
	return Outcome{RunID: e.runID, Status: RunStatusCompensated, Token: result}, nil
}

// compensateStep invokes a step's compensation activity under its own
// policy and returns the compensation's confirmation token, if any.
func (e *executor) compensateStep(ctx context.Context, step *StepNode) (string, error) {
	activity, err := e.activities.Get(step.Compensation.Activity)
	if err != nil {
		return "", err
	}

	out, err := e.invoker.Invoke(
		ctx,
		e.stepContext(step.Name),
		activity,
		step.Compensation.Timeout,
		step.Compensation.Policy,
	)
	if err != nil {
		return "", err
	}
	token, _ := out.(string)
	return token, nil
}

// record journals a node's output and mirrors the state to the store.
func (e *executor) record(ctx context.Context, name NodeName, out any) error {
	var raw json.RawMessage
	if out != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal output of node %s: %w", name, err)
		}
		raw = data
		e.outputs.Set(name, raw)
	}

	e.completed = append(e.completed, CompletedNode{
		Name:        name,
		Output:      raw,
		CompletedAt: e.now(),
	})
	e.done[name] = true
	e.persistWarn(ctx, RunStatusRunning, "")
	return nil
}

// composeResult joins the result nodes' outputs into the success token.
func (e *executor) composeResult() (string, error) {
	segments := make([]string, 0, len(e.plan.ResultNodes))
	for _, name := range e.plan.ResultNodes {
		raw, ok := e.outputs.Get(name)
		if !ok {
			return "", fmt.Errorf("result node %s has no recorded output", name)
		}
		var segment string
		if err := json.Unmarshal(raw, &segment); err != nil {
			return "", fmt.Errorf("result node %s output is not a string: %w", name, err)
		}
		segments = append(segments, segment)
	}
	return strings.Join(segments, " | "), nil
}

// stepContext builds the context handed to an activity attempt.
func (e *executor) stepContext(node NodeName) *StepContext {
	return &StepContext{
		RunID:   e.runID,
		Saga:    e.plan.Saga,
		Node:    node,
		params:  e.params,
		outputs: e.outputs,
	}
}

// persist mirrors the journal to the store.
func (e *executor) persist(ctx context.Context, status, result string) error {
	completed := make([]CompletedNode, len(e.completed))
	copy(completed, e.completed)

	timers := make(map[NodeName]time.Time, len(e.timers))
	for name, deadline := range e.timers {
		timers[name] = deadline
	}

	return e.store.Save(ctx, RunState{
		RunID:     e.runID,
		Saga:      e.plan.Saga,
		Status:    status,
		Params:    e.params,
		Completed: completed,
		Timers:    timers,
		Result:    result,
		CreatedAt: e.createdAt,
		UpdatedAt: e.now(),
	})
}

// persistWarn persists and logs rather than fails on a store error: the
// in-memory journal stays authoritative for the rest of this process.
func (e *executor) persistWarn(ctx context.Context, status, result string) {
	if err := e.persist(ctx, status, result); err != nil {
		e.logger.Warn("failed to persist run state",
			"saga", e.plan.Saga,
			"run_id", e.runID,
			"status", status,
			"error", err,
		)
	}
}
