// Package processor defines the opaque payment-processor capability the
// billing core consumes. The core never interprets processor-specific error
// codes; every failure surfaces as a single *Error carrying a message.
package processor

import "context"

// State is the processor-side state of a charge
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Error wraps any processor failure. The billing core treats its contents as
// display text only.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "processor: " + e.Message + ": " + e.Cause.Error()
	}
	return "processor: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Backend is the payment processor capability. Implementations wrap a real
// gateway; tests substitute func-field fakes.
type Backend interface {
	// Charge submits a payment attempt under the given idempotency key and
	// returns the processor's opaque reference for it. Resubmitting the same
	// key must not charge twice.
	Charge(ctx context.Context, amount int64, unit, token, idempotencyKey string) (string, error)
	// Refund returns money against a previous charge reference.
	Refund(ctx context.Context, chargeRef string, amount int64) error
	// Retrieve reports the current processor-side state of a charge, looked
	// up by reference or idempotency key.
	Retrieve(ctx context.Context, chargeRef string) (State, error)
}
