package cartflow

import (
	"context"
	"time"
)

// Saga names registered by the built-in definitions.
const (
	SagaOrder       SagaName = "order"
	SagaPostProcess SagaName = "post_process"
)

// Activity names for the order saga.
const (
	ActivityCheckBalance   ActivityName = "ledger.check_balance"
	ActivityCapturePayment ActivityName = "ledger.capture_payment"
	ActivityRefundPayment  ActivityName = "ledger.refund_payment"
	ActivitySubmitOrder    ActivityName = "orders.submit"
)

// Node names for the order saga.
const (
	NodeCheckBalance   NodeName = "check_balance"
	NodeCapturePayment NodeName = "capture_payment"
	NodeSubmitOrder    NodeName = "submit_order"
	NodePostProcess    NodeName = "post_process"
)

// DefaultStepTimeout bounds a single step attempt when the saga definition
// does not override it.
const DefaultStepTimeout = 5 * time.Second

// Cart is the immutable input record of an order run.  It is captured once
// at start and every step reads the same copy.
type Cart struct {
	CartID     string `json:"cart_id" yaml:"cart_id"`
	CustomerID string `json:"customer_id" yaml:"customer_id"`
	StoreID    string `json:"store_id" yaml:"store_id"`
	ProductID  string `json:"product_id" yaml:"product_id"`
	Email      string `json:"email" yaml:"email"`
	CardNumber string `json:"card_number" yaml:"card_number"`
	Amount     int    `json:"amount" yaml:"amount"`
}

// PaymentLedger is the payment system the order saga transacts against.
type PaymentLedger interface {
	// CheckBalance verifies the card exists and covers the amount, returning
	// a balance confirmation token.  Business-rule violations are reported
	// as Reject errors with KindInvalidCard or KindInsufficientBalance.
	CheckBalance(ctx context.Context, cardNumber string, amount int) (string, error)

	// Capture charges the card for the cart's amount and returns a payment
	// confirmation token.  Capture is idempotent per (cart, customer): a
	// re-delivered capture returns the original token without charging again.
	Capture(ctx context.Context, cart Cart) (string, error)

	// Refund reverses a captured payment and returns a refund confirmation.
	Refund(ctx context.Context, paymentToken string) (string, error)
}

// OrderSubmitter hands a paid cart to fulfilment.
type OrderSubmitter interface {
	// Submit places the order and returns its transaction ID.
	Submit(ctx context.Context, cart Cart, paymentToken string) (string, error)
}

// OrderSaga is the primary transaction: balance check, payment capture and
// order submission in sequence, a refund compensating the capture when
// submission cannot complete, and the post-processing saga spawned as a
// detached child on the success path.
type OrderSaga struct {
	Ledger PaymentLedger
	Orders OrderSubmitter

	// StepTimeout bounds each step attempt.  Zero means DefaultStepTimeout.
	StepTimeout time.Duration
}

func (s *OrderSaga) stepTimeout() time.Duration {
	if s.StepTimeout > 0 {
		return s.StepTimeout
	}
	return DefaultStepTimeout
}

// Register adds the order saga's activities to the registry.
func (s *OrderSaga) Register(reg *ActivityRegistry) error {
	activities := []Activity{
		NewActivityFunc(ActivityCheckBalance, s.checkBalance),
		NewActivityFunc(ActivityCapturePayment, s.capturePayment),
		NewActivityFunc(ActivityRefundPayment, s.refundPayment),
		NewActivityFunc(ActivitySubmitOrder, s.submitOrder),
	}
	for _, activity := range activities {
		if err := reg.Register(activity); err != nil {
			return err
		}
	}
	return nil
}

// Plan builds the order saga's plan.
//
// The success token is the joined outputs of all four nodes; a failure
// after capture unwinds into a refund whose confirmation becomes the
// compensated outcome instead.
func (s *OrderSaga) Plan() (*Plan, error) {
	builder := NewPlanBuilder(SagaOrder)

	nodes := []PlanNode{
		&StepNode{
			Name:     NodeCheckBalance,
			Activity: ActivityCheckBalance,
			Timeout:  s.stepTimeout(),
			Policy:   BoundedPolicy(),
		},
		&StepNode{
			Name:     NodeCapturePayment,
			Activity: ActivityCapturePayment,
			Timeout:  s.stepTimeout(),
			Policy:   BoundedPolicy(),
			Compensation: &Compensation{
				Activity: ActivityRefundPayment,
				Timeout:  s.stepTimeout(),
				// A refund that exhausts this budget surfaces as a fatal
				// failure; there is no further fallback.
				Policy: BoundedPolicy(),
			},
		},
		&StepNode{
			Name:     NodeSubmitOrder,
			Activity: ActivitySubmitOrder,
			Timeout:  s.stepTimeout(),
			Policy:   BoundedPolicy(),
		},
		&DetachNode{
			Name: NodePostProcess,
			Saga: SagaPostProcess,
		},
	}
	for _, node := range nodes {
		if err := builder.Append(node); err != nil {
			return nil, err
		}
	}

	return builder.Build(NodeCheckBalance, NodeCapturePayment, NodeSubmitOrder, NodePostProcess)
}

func (s *OrderSaga) checkBalance(ctx context.Context, sc *StepContext) (any, error) {
	var cart Cart
	if err := sc.Params(&cart); err != nil {
		return nil, err
	}
	return s.Ledger.CheckBalance(ctx, cart.CardNumber, cart.Amount)
}

func (s *OrderSaga) capturePayment(ctx context.Context, sc *StepContext) (any, error) {
	var cart Cart
	if err := sc.Params(&cart); err != nil {
		return nil, err
	}
	return s.Ledger.Capture(ctx, cart)
}

func (s *OrderSaga) submitOrder(ctx context.Context, sc *StepContext) (any, error) {
	var cart Cart
	if err := sc.Params(&cart); err != nil {
		return nil, err
	}
	var paymentToken string
	if err := sc.Output(NodeCapturePayment, &paymentToken); err != nil {
		return nil, err
	}
	return s.Orders.Submit(ctx, cart, paymentToken)
}

func (s *OrderSaga) refundPayment(ctx context.Context, sc *StepContext) (any, error) {
	var paymentToken string
	if err := sc.Output(NodeCapturePayment, &paymentToken); err != nil {
		return nil, err
	}
	return s.Ledger.Refund(ctx, paymentToken)
}
