// Package cartflow orchestrates a multi-step order-fulfillment transaction
// as a saga with compensation.
//
// The primary transaction sequences a balance check, an idempotent payment
// capture and an order submission.  If order submission cannot complete
// after payment has been captured, the captured payment is refunded and the
// refund confirmation becomes the transaction's terminal outcome.  On
// success the transaction hands a post-processing saga (customer lookup,
// receipt email, a long durable delay, offer email) to the runtime as a
// detached child and returns without waiting for it.
//
// Overview
//
//  1. Implement the collaborator interfaces (PaymentLedger, OrderSubmitter,
//     CustomerDirectory, Notifier) or use the in-memory versions under
//     ledger/, orders/, directory/ and notify/.
//  2. Create a Runtime with a Store (memory, file or Redis backed).
//  3. Register each saga's activities and plan: OrderSaga.Register /
//     OrderSaga.Plan, PostProcessSaga.Register / PostProcessSaga.Plan.
//  4. Start the primary saga with Runtime.Start and read the Outcome; after
//     a crash, RecoverPending resumes any unfinished runs from the store.
//
// Every step invocation is governed by a RetryPolicy.  Domain rejections
// (invalid card, insufficient balance) are never retried; every other
// failure is transient and retried up to the policy's attempt budget, or
// forever when the budget is zero.
package cartflow
