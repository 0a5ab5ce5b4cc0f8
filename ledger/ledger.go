// Package ledger provides the in-memory payment system the order saga
// transacts against: per-card balances, idempotent capture and refunds.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/fortressi/cartflow"
)

// Reference card numbers seeded by NewReferenceLedger.
const (
	// CardWithBalance holds 2000 units.
	CardWithBalance = "1212 1212 1212 1212"

	// CardEmpty exists but holds nothing.
	CardEmpty = "2323 2323 2323 2323"
)

// ReferenceBalance is the seeded balance of CardWithBalance.
const ReferenceBalance = 2000

// Ledger is a concurrent in-memory payment ledger.
//
// Capture is idempotent per (cart, customer): the saga layer delivers
// captures at least once across retries and resumes, and the ledger
// guarantees a single charge per cart by returning the recorded
// confirmation for any re-delivery.
type Ledger struct {
	balances *xsync.MapOf[string, int]    // card number -> units
	captures *xsync.MapOf[string, string] // capture key -> payment token
	payments *xsync.MapOf[string, cartflow.Cart]
	refunds  *xsync.MapOf[string, string] // payment token -> refund confirmation
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: xsync.NewMapOf[string, int](),
		captures: xsync.NewMapOf[string, string](),
		payments: xsync.NewMapOf[string, cartflow.Cart](),
		refunds:  xsync.NewMapOf[string, string](),
	}
}

// NewReferenceLedger creates a ledger seeded with the reference cards.
func NewReferenceLedger() *Ledger {
	l := NewLedger()
	l.AddCard(CardWithBalance, ReferenceBalance)
	l.AddCard(CardEmpty, 0)
	return l
}

// AddCard registers a card with an initial balance.
func (l *Ledger) AddCard(cardNumber string, balance int) {
	l.balances.Store(cardNumber, balance)
}

// Balance returns a card's current balance.
func (l *Ledger) Balance(cardNumber string) (int, bool) {
	return l.balances.Load(cardNumber)
}

// CheckBalance verifies the card exists and covers the amount, returning a
// balance confirmation token.
func (l *Ledger) CheckBalance(ctx context.Context, cardNumber string, amount int) (string, error) {
	balance, ok := l.balances.Load(cardNumber)
	if !ok {
		return "", cartflow.Reject(cartflow.KindInvalidCard, "card %q not found", cardNumber)
	}
	if balance < amount {
		return "", cartflow.Reject(cartflow.KindInsufficientBalance,
			"card %q balance %d does not cover %d", cardNumber, balance, amount)
	}
	return "BalanceConfirmationId-" + uuid.NewString(), nil
}

// Capture charges the cart's card and returns a payment confirmation token.
// A capture key already recorded returns the original token without
// charging again.
func (l *Ledger) Capture(ctx context.Context, cart cartflow.Cart) (string, error) {
	if _, ok := l.balances.Load(cart.CardNumber); !ok {
		return "", cartflow.Reject(cartflow.KindInvalidCard, "card %q not found", cart.CardNumber)
	}

	key := captureKey(cart)
	token, loaded := l.captures.LoadOrCompute(key, func() string {
		return "PaymentConfirmationId-" + uuid.NewString()
	})
	if loaded {
		// Re-delivered capture: the charge already happened.
		return token, nil
	}

	insufficient := false
	l.balances.Compute(cart.CardNumber, func(balance int, ok bool) (int, bool) {
		if !ok || balance < cart.Amount {
			insufficient = true
			return balance, !ok
		}
		return balance - cart.Amount, false
	})
	if insufficient {
		l.captures.Delete(key)
		return "", cartflow.Reject(cartflow.KindInsufficientBalance,
			"card %q cannot cover %d", cart.CardNumber, cart.Amount)
	}

	l.payments.Store(token, cart)
	return token, nil
}

// Refund reverses a captured payment, restoring the card's balance, and
// returns a refund confirmation.  Refunding the same token twice restores
// the balance once.
func (l *Ledger) Refund(ctx context.Context, paymentToken string) (string, error) {
	cart, ok := l.payments.Load(paymentToken)
	if !ok {
		return "", fmt.Errorf("no captured payment for token %q", paymentToken)
	}

	confirmation, loaded := l.refunds.LoadOrCompute(paymentToken, func() string {
		return "Refund Processed for " + paymentToken
	})
	if loaded {
		return confirmation, nil
	}

	l.balances.Compute(cart.CardNumber, func(balance int, ok bool) (int, bool) {
		return balance + cart.Amount, false
	})
	return confirmation, nil
}

func captureKey(cart cartflow.Cart) string {
	return cart.CartID + "/" + cart.CustomerID
}
