// Package notify delivers customer-facing emails for the post-processing
// saga.  The Mailer here logs instead of talking to a real provider; the
// delivery notes it returns are what the saga records.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fortressi/cartflow"
)

// Mailer records and logs outbound emails.
type Mailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []string
}

// NewMailer creates a Mailer.  A nil logger falls back to slog.Default.
func NewMailer(logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{logger: logger}
}

// SendReceipt emails the order receipt and returns the delivery note.
func (m *Mailer) SendReceipt(ctx context.Context, customer cartflow.Customer, cart cartflow.Cart) (string, error) {
	note := "Sent receipt of your order to " + customer.Email
	m.logger.Info("receipt sent",
		"customer_id", customer.ID,
		"cart_id", cart.CartID,
		"email", customer.Email,
	)
	m.record(note)
	return note, nil
}

// SendOffer emails the follow-up offer and returns the delivery note.
func (m *Mailer) SendOffer(ctx context.Context, customer cartflow.Customer) (string, error) {
	note := "Sent offer email to " + customer.Email
	m.logger.Info("offer sent",
		"customer_id", customer.ID,
		"email", customer.Email,
	)
	m.record(note)
	return note, nil
}

func (m *Mailer) record(note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, note)
}

// Sent returns a copy of every delivery note so far.
func (m *Mailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}
