package checkout

import (
	"errors"
	"fmt"
	"time"
)

// ErrNothingToCharge is returned when a checkout carries no committed lines.
// Invoicables still offering options are not chargeable.
var ErrNothingToCharge = errors.New("nothing to charge")

// ErrInsufficientFunds is returned when a refund would exceed what remains
// refundable on a charge line.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ChargeState is the lifecycle state of a charge. A charge is born created,
// moves to done or failed after the processor answers, and a done charge may
// later be disputed. No other transition exists.
type ChargeState string

const (
	StateCreated  ChargeState = "created"
	StateDone     ChargeState = "done"
	StateFailed   ChargeState = "failed"
	StateDisputed ChargeState = "disputed"
)

// CanTransition reports whether moving from s to next is legal
func (s ChargeState) CanTransition(next ChargeState) bool {
	switch s {
	case StateCreated:
		return next == StateDone || next == StateFailed
	case StateDone:
		return next == StateDisputed
	default:
		return false
	}
}

// Charge is one payment attempt against a set of committed lines. The ledger
// rows recording the order are appended before the processor is contacted;
// a failed charge therefore leaves the order recorded and the balance due.
type Charge struct {
	ID             int64       `json:"id"`
	CustomerOrgID  int64       `json:"customer_org_id"`
	Amount         int64       `json:"amount"`
	Unit           string      `json:"unit"`
	State          ChargeState `json:"state"`
	ProcessorRef   string      `json:"processor_ref,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Lines []ChargeLine `json:"lines,omitempty"`
}

// ChargeLine is one line of a charge. RefundedAmount accumulates refunds; the
// refundable remainder is Amount minus RefundedAmount, never negative.
type ChargeLine struct {
	ID             int64  `json:"id"`
	ChargeID       int64  `json:"charge_id"`
	EventID        string `json:"event_id"`
	Descr          string `json:"descr"`
	Amount         int64  `json:"amount"`
	Unit           string `json:"unit"`
	ProviderOrgID  int64  `json:"provider_org_id"`
	BalanceDue     bool   `json:"balance_due"`
	RefundedAmount int64  `json:"refunded_amount"`
}

// Refundable returns what may still be refunded on the line
func (l *ChargeLine) Refundable() int64 {
	r := l.Amount - l.RefundedAmount
	if r < 0 {
		return 0
	}
	return r
}

// InvalidTransitionError reports an illegal charge state change
type InvalidTransitionError struct {
	ChargeID int64
	From     ChargeState
	To       ChargeState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("charge %d: illegal transition %s -> %s", e.ChargeID, e.From, e.To)
}
