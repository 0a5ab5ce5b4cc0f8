// Package orders provides the in-memory order submission service.
package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fortressi/cartflow"
)

// FailureStoreID is the store ID that makes Submit fail on every attempt,
// for exercising the compensation path end to end.
const FailureStoreID = "MockSubmitOrderFailure"

// Submission is a recorded order.
type Submission struct {
	Cart         cartflow.Cart
	PaymentToken string
}

// Service is a concurrent in-memory order submission service.
type Service struct {
	submitted *xsync.MapOf[string, Submission] // txn id -> submission
	attempts  *xsync.MapOf[string, int]        // cart id -> submit attempts
}

// NewService creates an empty order service.
func NewService() *Service {
	return &Service{
		submitted: xsync.NewMapOf[string, Submission](),
		attempts:  xsync.NewMapOf[string, int](),
	}
}

// Submit places the order and returns its transaction ID.
func (s *Service) Submit(ctx context.Context, cart cartflow.Cart, paymentToken string) (string, error) {
	s.attempts.Compute(cart.CartID, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})

	if cart.StoreID == FailureStoreID {
		return "", cartflow.Transient(errors.New("order submission failed"))
	}

	txnID := "TxnId-" + uuid.NewString()
	s.submitted.Store(txnID, Submission{Cart: cart, PaymentToken: paymentToken})
	return txnID, nil
}

// Attempts returns how many times Submit has been called for a cart.
func (s *Service) Attempts(cartID string) int {
	n, _ := s.attempts.Load(cartID)
	return n
}

// Submitted returns the recorded submission for a transaction ID.
func (s *Service) Submitted(txnID string) (Submission, bool) {
	return s.submitted.Load(txnID)
}
