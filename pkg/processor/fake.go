package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory processor backend for development and tests. Tokens
// prefixed "tok_fail" are declined; everything else succeeds. Charges are
// stored per idempotency key, so resubmitting a key never charges twice.
type Fake struct {
	mu      sync.Mutex
	charges map[string]*fakeCharge
	seq     int64
}

type fakeCharge struct {
	ref      string
	amount   int64
	unit     string
	refunded int64
	state    State
}

// NewFake creates a fake processor backend
func NewFake() *Fake {
	return &Fake{charges: make(map[string]*fakeCharge)}
}

// Charge simulates a payment attempt
func (f *Fake) Charge(ctx context.Context, amount int64, unit, token, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.charges[idempotencyKey]; ok {
		if existing.state == StateFailed {
			return "", &Error{Message: "card declined"}
		}
		return existing.ref, nil
	}

	f.seq++
	c := &fakeCharge{
		ref:    fmt.Sprintf("ch_fake_%d", f.seq),
		amount: amount,
		unit:   unit,
		state:  StateSucceeded,
	}
	if token == "" {
		c.state = StateFailed
		f.charges[idempotencyKey] = c
		return "", &Error{Message: "no payment method"}
	}
	if strings.HasPrefix(token, "tok_fail") {
		c.state = StateFailed
		f.charges[idempotencyKey] = c
		return "", &Error{Message: "card declined"}
	}
	f.charges[idempotencyKey] = c
	f.charges[c.ref] = c
	return c.ref, nil
}

// Refund simulates a refund against a charge reference
func (f *Fake) Refund(ctx context.Context, chargeRef string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.charges[chargeRef]
	if !ok {
		return &Error{Message: fmt.Sprintf("unknown charge %q", chargeRef)}
	}
	if c.state != StateSucceeded {
		return &Error{Message: "charge not refundable"}
	}
	if c.refunded+amount > c.amount {
		return &Error{Message: "refund exceeds charge"}
	}
	c.refunded += amount
	return nil
}

// Retrieve reports a charge's state by reference or idempotency key
func (f *Fake) Retrieve(ctx context.Context, chargeRef string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.charges[chargeRef]
	if !ok {
		return "", &Error{Message: fmt.Sprintf("unknown charge %q", chargeRef)}
	}
	return c.state, nil
}
