package cartflow

import (
	"errors"
	"fmt"
)

// Kind classifies a step failure for retry decisions.
type Kind int

const (
	// KindTransient is the default classification: infrastructure hiccups,
	// timeouts, "record not found" responses and anything else a step did
	// not explicitly tag.  Transient failures are retried per policy.
	KindTransient Kind = iota

	// KindInvalidCard is a domain rejection: the card does not exist in the
	// payment system.  Never retried.
	KindInvalidCard

	// KindInsufficientBalance is a domain rejection: the amount exceeds the
	// card's balance.  Never retried.
	KindInsufficientBalance
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalidCard:
		return "invalid_card"
	case KindInsufficientBalance:
		return "insufficient_balance"
	default:
		return fmt.Sprintf("unknown Kind: %d", int(k))
	}
}

// Rejection reports whether the kind is a permanent business-rule violation.
func (k Kind) Rejection() bool {
	return k != KindTransient
}

// Failure is a step error tagged with its classification.  Steps that can
// detect business-rule violations wrap them with Reject; everything else is
// left untagged and classified as transient.
type Failure struct {
	Kind Kind
	Err  error
}

// Error implements the error interface for Failure.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Reject builds a domain-rejection error of the given kind.
func Reject(kind Kind, format string, args ...any) error {
	return &Failure{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Transient tags an error explicitly as retryable.  Untagged errors are
// already treated as transient, so this is only needed when a failure must
// carry the tag across further wrapping.
func Transient(err error) error {
	return &Failure{Kind: KindTransient, Err: err}
}

// KindOf classifies an error.  Errors that do not carry a Failure tag
// anywhere in their chain default to KindTransient.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}
