package cartflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChildHandle identifies a detached child run.  It is recorded as the
// detach node's output and can be used to look the child up in the store.
type ChildHandle struct {
	RunID string
}

// String returns the child run's ID.
func (h ChildHandle) String() string {
	return h.RunID
}

// Config configures a Runtime.  Every field is optional: the zero Config
// yields an in-memory runtime with real clocks and timers.
type Config struct {
	// Store persists run state.  Defaults to an in-memory store.
	Store Store

	// Activities is the shared activity registry.  Defaults to a new
	// empty registry.
	Activities *ActivityRegistry

	// Logger receives structured run and step events.  Defaults to
	// slog.Default.
	Logger *slog.Logger

	// Sleep substitutes the wait used by timers and retry backoff.
	// Defaults to a real timer-backed wait.
	Sleep SleepFunc

	// Now substitutes the clock used for journaling and timer deadlines.
	// Defaults to time.Now.
	Now func() time.Time
}

// Runtime hosts saga definitions and executes runs against a store.
//
// A Runtime is safe for concurrent use.  Plans and activities are
// registered up front; runs are then started, resumed or recovered by ID.
type Runtime struct {
	store      Store
	activities *ActivityRegistry
	invoker    *Invoker
	logger     *slog.Logger
	sleep      SleepFunc
	now        func() time.Time

	mu    sync.RWMutex
	plans map[SagaName]*Plan

	detached sync.WaitGroup
}

// NewRuntime creates a Runtime from the given configuration.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Activities == nil {
		cfg.Activities = NewActivityRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepFor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runtime{
		store:      cfg.Store,
		activities: cfg.Activities,
		invoker:    NewInvoker(cfg.Logger, cfg.Sleep),
		logger:     cfg.Logger,
		sleep:      cfg.Sleep,
		now:        cfg.Now,
		plans:      make(map[SagaName]*Plan),
	}
}

// Activities returns the runtime's activity registry.
func (r *Runtime) Activities() *ActivityRegistry {
	return r.activities
}

// RegisterSaga adds a saga plan to the runtime.
func (r *Runtime) RegisterSaga(plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plans[plan.Saga]; exists {
		return fmt.Errorf("saga %q already registered", plan.Saga)
	}
	r.plans[plan.Saga] = plan
	return nil
}

func (r *Runtime) plan(saga SagaName) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.plans[saga]
	if !ok {
		return nil, fmt.Errorf("saga %q not registered", saga)
	}
	return plan, nil
}

// Start runs a saga synchronously to its terminal outcome.  The params
// value is marshaled to JSON and becomes the run's immutable input record.
func (r *Runtime) Start(ctx context.Context, saga SagaName, params any) (Outcome, error) {
	plan, err := r.plan(saga)
	if err != nil {
		return Outcome{}, err
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to marshal saga params: %w", err)
	}

	runID := uuid.NewString()
	r.logger.Info("run started", "saga", saga, "run_id", runID)
	return r.newExecutor(plan, runID, raw).Execute(ctx)
}

// StartDetached starts a saga as a detached child run and returns its
// handle without waiting for the outcome.
//
// The child's initial state is persisted before this method returns, and
// the child's lifetime is decoupled from the caller's context: cancelling
// the parent does not cancel the child.
func (r *Runtime) StartDetached(ctx context.Context, saga SagaName, params json.RawMessage) (ChildHandle, error) {
	plan, err := r.plan(saga)
	if err != nil {
		return ChildHandle{}, err
	}

	runID := uuid.NewString()
	exec := r.newExecutor(plan, runID, params)
	if err := exec.persist(ctx, RunStatusRunning, ""); err != nil {
		return ChildHandle{}, fmt.Errorf("failed to save detached run state: %w", err)
	}

	detachedCtx := context.WithoutCancel(ctx)
	r.detached.Add(1)
	go func() {
		defer r.detached.Done()
		r.logger.Info("detached run started", "saga", saga, "run_id", runID)
		if _, err := exec.Execute(detachedCtx); err != nil {
			r.logger.Error("detached run aborted",
				"saga", saga,
				"run_id", runID,
				"error", err,
			)
		}
	}()

	return ChildHandle{RunID: runID}, nil
}

// Resume continues a persisted run from its last recorded node.  Resuming
// a run that already reached a terminal status returns the stored outcome
// without executing anything.
func (r *Runtime) Resume(ctx context.Context, runID string) (Outcome, error) {
	state, err := r.store.Load(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}

	if TerminalStatus(state.Status) {
		return Outcome{RunID: state.RunID, Status: state.Status, Token: state.Result}, nil
	}

	plan, err := r.plan(state.Saga)
	if err != nil {
		return Outcome{}, err
	}

	r.logger.Info("run resumed",
		"saga", state.Saga,
		"run_id", runID,
		"completed_nodes", len(state.Completed),
	)
	return r.executorFromState(plan, state).Execute(ctx)
}

// RecoverPending resumes every stored run that is still in the running
// state, in sequence.  Runs that fail to resume are reported together; the
// rest still complete.
func (r *Runtime) RecoverPending(ctx context.Context) ([]Outcome, error) {
	states, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var outcomes []Outcome
	var errs []error
	for _, state := range states {
		if state.Status != RunStatusRunning {
			continue
		}
		outcome, err := r.Resume(ctx, state.RunID)
		if err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", state.RunID, err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, errors.Join(errs...)
}

// Wait blocks until all detached child runs started by this runtime have
// finished.
func (r *Runtime) Wait() {
	r.detached.Wait()
}
