package cartflow

import (
	"math/rand"
	"time"
)

// Default intervals for the built-in policies.
const (
	defaultInitialInterval = 100 * time.Millisecond
	boundedMaxInterval     = 1 * time.Second
	unboundedMaxInterval   = 5 * time.Second
	backoffJitter          = 0.2
)

// RetryPolicy governs how a single step is re-attempted.  Policies are
// immutable and attached per step at plan-definition time.
type RetryPolicy struct {
	// MaxAttempts caps the number of attempts.  Zero means unbounded.
	MaxAttempts int

	// InitialInterval is the backoff before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the backoff between attempts.
	MaxInterval time.Duration

	// NonRetryable lists error kinds that are surfaced immediately after
	// the first attempt, with zero additional attempts.
	NonRetryable []Kind
}

// BoundedPolicy returns the policy for the primary, synchronous transaction:
// a caller waiting synchronously cannot tolerate unbounded latency, and
// business-rule violations will never succeed on retry.
func BoundedPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     boundedMaxInterval,
		NonRetryable:    []Kind{KindInvalidCard, KindInsufficientBalance},
	}
}

// UnboundedPolicy returns the policy for detached post-processing: no caller
// waits synchronously, so every failure is retried until it succeeds.
func UnboundedPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     0,
		InitialInterval: defaultInitialInterval,
		MaxInterval:     unboundedMaxInterval,
	}
}

// NonRetryableKind reports whether the kind is in the policy's
// non-retryable set.
func (p RetryPolicy) NonRetryableKind(kind Kind) bool {
	for _, k := range p.NonRetryable {
		if k == kind {
			return true
		}
	}
	return false
}

// Decide is the retry decision: it reports whether a failed attempt should
// be re-attempted under the policy.  attempt is 1-based and counts the
// attempt that just failed.
func Decide(p RetryPolicy, err error, attempt int) bool {
	if p.NonRetryableKind(KindOf(err)) {
		return false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return false
	}
	return true
}

// Backoff returns the delay before the next attempt: the initial interval
// doubled per completed attempt, capped at MaxInterval, with a small jitter.
// attempt is 1-based and counts the attempt that just failed.  A nil rng
// uses the global source.
func Backoff(p RetryPolicy, attempt int, rng *rand.Rand) time.Duration {
	base := p.InitialInterval
	if base <= 0 {
		base = defaultInitialInterval
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= p.MaxInterval/2 {
			delay = p.MaxInterval
			break
		}
		delay *= 2
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}

	randFloat := rand.Float64
	if rng != nil {
		randFloat = rng.Float64
	}
	delta := (randFloat() * backoffJitter * 2) - backoffJitter
	jittered := float64(delay) * (1 + delta)
	if jittered < float64(time.Millisecond) {
		jittered = float64(time.Millisecond)
	}
	return time.Duration(jittered)
}
