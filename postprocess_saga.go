package cartflow

import (
	"context"
	"time"
)

// Activity names for the post-processing saga.
const (
	ActivityLookupCustomer ActivityName = "directory.lookup_customer"
	ActivitySendReceipt    ActivityName = "notify.send_receipt"
	ActivitySendOffer      ActivityName = "notify.send_offer"
)

// Node names for the post-processing saga.
const (
	NodeLookupCustomer NodeName = "lookup_customer"
	NodeSendReceipt    NodeName = "send_receipt"
	NodeOfferWait      NodeName = "offer_wait"
	NodeSendOffer      NodeName = "send_offer"
)

// DefaultOfferDelay is the durable pause between the receipt and the
// follow-up offer.
const DefaultOfferDelay = 30 * time.Second

// Customer is a directory record resolved from a cart's customer ID.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CustomerDirectory resolves customer IDs to directory records.
type CustomerDirectory interface {
	// Lookup returns the customer record for the given ID.  An unknown ID
	// is a transient failure: directory propagation lag is expected, so the
	// caller keeps retrying.
	Lookup(ctx context.Context, customerID string) (Customer, error)
}

// Notifier delivers customer-facing emails.
type Notifier interface {
	// SendReceipt emails the order receipt and returns the delivery note.
	SendReceipt(ctx context.Context, customer Customer, cart Cart) (string, error)

	// SendOffer emails the follow-up offer and returns the delivery note.
	SendOffer(ctx context.Context, customer Customer) (string, error)
}

// PostProcessSaga is the detached follow-up to a submitted order: resolve
// the customer, email the receipt, pause durably, then email an offer.
//
// No caller waits on this saga, so every step retries without an attempt
// bound.  The pause is a persisted deadline: a process restart sleeps only
// the remainder, and the offer is sent exactly once per run.
type PostProcessSaga struct {
	Directory CustomerDirectory
	Notifier  Notifier

	// StepTimeout bounds each step attempt.  Zero means DefaultStepTimeout.
	StepTimeout time.Duration

	// OfferDelay is the pause before the offer email.  Zero means
	// DefaultOfferDelay.
	OfferDelay time.Duration
}

func (s *PostProcessSaga) stepTimeout() time.Duration {
	if s.StepTimeout > 0 {
		return s.StepTimeout
	}
	return DefaultStepTimeout
}

func (s *PostProcessSaga) offerDelay() time.Duration {
	if s.OfferDelay > 0 {
		return s.OfferDelay
	}
	return DefaultOfferDelay
}

// Register adds the post-processing saga's activities to the registry.
func (s *PostProcessSaga) Register(reg *ActivityRegistry) error {
	activities := []Activity{
		NewActivityFunc(ActivityLookupCustomer, s.lookupCustomer),
		NewActivityFunc(ActivitySendReceipt, s.sendReceipt),
		NewActivityFunc(ActivitySendOffer, s.sendOffer),
	}
	for _, activity := range activities {
		if err := reg.Register(activity); err != nil {
			return err
		}
	}
	return nil
}

// Plan builds the post-processing saga's plan.  No step carries a
// compensation: emails cannot be unsent.
func (s *PostProcessSaga) Plan() (*Plan, error) {
	builder := NewPlanBuilder(SagaPostProcess)

	nodes := []PlanNode{
		&StepNode{
			Name:     NodeLookupCustomer,
			Activity: ActivityLookupCustomer,
			Timeout:  s.stepTimeout(),
			Policy:   UnboundedPolicy(),
		},
		&StepNode{
			Name:     NodeSendReceipt,
			Activity: ActivitySendReceipt,
			Timeout:  s.stepTimeout(),
			Policy:   UnboundedPolicy(),
		},
		&TimerNode{
			Name:     NodeOfferWait,
			Duration: s.offerDelay(),
		},
		&StepNode{
			Name:     NodeSendOffer,
			Activity: ActivitySendOffer,
			Timeout:  s.stepTimeout(),
			Policy:   UnboundedPolicy(),
		},
	}
	for _, node := range nodes {
		if err := builder.Append(node); err != nil {
			return nil, err
		}
	}

	return builder.Build(NodeSendReceipt, NodeSendOffer)
}

func (s *PostProcessSaga) lookupCustomer(ctx context.Context, sc *StepContext) (any, error) {
	var cart Cart
	if err := sc.Params(&cart); err != nil {
		return nil, err
	}
	return s.Directory.Lookup(ctx, cart.CustomerID)
}

func (s *PostProcessSaga) sendReceipt(ctx context.Context, sc *StepContext) (any, error) {
	var cart Cart
	if err := sc.Params(&cart); err != nil {
		return nil, err
	}
	var customer Customer
	if err := sc.Output(NodeLookupCustomer, &customer); err != nil {
		return nil, err
	}
	return s.Notifier.SendReceipt(ctx, customer, cart)
}

func (s *PostProcessSaga) sendOffer(ctx context.Context, sc *StepContext) (any, error) {
	var customer Customer
	if err := sc.Output(NodeLookupCustomer, &customer); err != nil {
		return nil, err
	}
	return s.Notifier.SendOffer(ctx, customer)
}
