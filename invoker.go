package cartflow

import (
	"context"
	"log/slog"
	"time"
)

// SleepFunc blocks for the given duration or until the context is done.
// It is injectable so tests and the durable timer can substitute waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepFor is the default SleepFunc.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoker runs a single saga step to completion under its retry policy.
//
// Retries are exhausted locally: the enclosing saga logic only ever sees a
// success, the last error of a bounded policy, or a non-retryable error
// surfaced immediately after the first attempt.
type Invoker struct {
	logger *slog.Logger
	sleep  SleepFunc
}

// NewInvoker creates an Invoker.  A nil logger falls back to slog.Default
// and a nil sleep to a real timer-backed wait.
func NewInvoker(logger *slog.Logger, sleep SleepFunc) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if sleep == nil {
		sleep = sleepFor
	}
	return &Invoker{logger: logger, sleep: sleep}
}

// Invoke executes the activity until it succeeds, exhausts the policy's
// attempt budget, or fails with a non-retryable kind.  Each attempt runs
// under its own timeout.  The error surfaced on exhaustion is the last
// observed error, unchanged in kind.
func (inv *Invoker) Invoke(
	ctx context.Context,
	sc *StepContext,
	activity Activity,
	timeout time.Duration,
	policy RetryPolicy,
) (any, error) {
	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		out, err := activity.Execute(attemptCtx, sc)
		cancel()

		if err == nil {
			inv.logger.Debug("step succeeded",
				"saga", sc.Saga,
				"run_id", sc.RunID,
				"step", sc.Node,
				"attempt", attempt,
			)
			return out, nil
		}

		kind := KindOf(err)
		inv.logger.Warn("step attempt failed",
			"saga", sc.Saga,
			"run_id", sc.RunID,
			"step", sc.Node,
			"attempt", attempt,
			"kind", kind.String(),
			"error", err,
		)

		if !Decide(policy, err, attempt) {
			return nil, err
		}
		if serr := inv.sleep(ctx, Backoff(policy, attempt, nil)); serr != nil {
			// The caller's context is gone; stop retrying.
			return nil, serr
		}
	}
}
