package ledger

import (
	"errors"
	"fmt"
	"time"
)

// ErrMixedUnit is returned when an aggregation would sum amounts across
// different currency units. The platform never converts; it refuses.
var ErrMixedUnit = errors.New("amounts span more than one currency unit")

// Account is the closed set of double-entry accounts. Adding a category here
// requires handling it in every exhaustive switch; free-form strings are
// deliberately not accepted.
type Account int

const (
	Income Account = iota
	Backlog
	Receivable
	Payable
	Liability
	Funds
	Expenses
	Refund
)

func (a Account) String() string {
	switch a {
	case Income:
		return "income"
	case Backlog:
		return "backlog"
	case Receivable:
		return "receivable"
	case Payable:
		return "payable"
	case Liability:
		return "liability"
	case Funds:
		return "funds"
	case Expenses:
		return "expenses"
	case Refund:
		return "refund"
	default:
		return fmt.Sprintf("account(%d)", int(a))
	}
}

// Valid reports whether a is a known account
func (a Account) Valid() bool {
	return a >= Income && a <= Refund
}

// ParseAccount parses an account name
func ParseAccount(s string) (Account, error) {
	for a := Income; a <= Refund; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown account: %q", s)
}

// Description is the structured descr attached to a transaction. EventID
// correlates the entries of one economic event (an order and its later
// payment share it).
type Description struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	EventID string `json:"event_id"`
}

// Transaction is one atomic ledger entry: two mirrored legs moving Amount
// from the orig account/organization to the dest account/organization.
// Rows are immutable once appended; corrections are new rows referencing the
// same event, never edits.
type Transaction struct {
	ID        int64       `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	EventID   string      `json:"event_id"`
	Descr     Description `json:"descr"`

	OrigAmount  int64   `json:"orig_amount"`
	OrigUnit    string  `json:"orig_unit"`
	OrigAccount Account `json:"orig_account"`
	OrigOrgID   int64   `json:"orig_org_id"`

	DestAmount  int64   `json:"dest_amount"`
	DestUnit    string  `json:"dest_unit"`
	DestAccount Account `json:"dest_account"`
	DestOrgID   int64   `json:"dest_org_id"`
}

// Validate enforces the pair invariant: both legs carry the same positive
// amount in the same unit, and both accounts are known.
func (t *Transaction) Validate() error {
	if t.OrigAmount <= 0 || t.DestAmount <= 0 {
		return fmt.Errorf("transaction amounts must be positive")
	}
	if t.OrigAmount != t.DestAmount {
		return fmt.Errorf("transaction legs do not mirror: orig=%d dest=%d", t.OrigAmount, t.DestAmount)
	}
	if t.OrigUnit == "" || t.OrigUnit != t.DestUnit {
		return fmt.Errorf("transaction legs disagree on unit: orig=%q dest=%q: %w", t.OrigUnit, t.DestUnit, ErrMixedUnit)
	}
	if !t.OrigAccount.Valid() {
		return fmt.Errorf("invalid orig account: %d", int(t.OrigAccount))
	}
	if !t.DestAccount.Valid() {
		return fmt.Errorf("invalid dest account: %d", int(t.DestAccount))
	}
	if t.EventID == "" {
		return fmt.Errorf("transaction event id is required")
	}
	return nil
}

// NewPair builds a validated transaction moving amount/unit from the orig
// account of origOrg to the dest account of destOrg.
func NewPair(origAccount Account, origOrg int64, destAccount Account, destOrg int64, amount int64, unit string, descr Description) (*Transaction, error) {
	t := &Transaction{
		EventID:     descr.EventID,
		Descr:       descr,
		OrigAmount:  amount,
		OrigUnit:    unit,
		OrigAccount: origAccount,
		OrigOrgID:   origOrg,
		DestAmount:  amount,
		DestUnit:    unit,
		DestAccount: destAccount,
		DestOrgID:   destOrg,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// EventBalance is the outstanding amount of one event in one unit, with the
// provider organization the amount is owed to. FirstAt is the oldest entry of
// the event, used for oldest-first settlement walks.
type EventBalance struct {
	EventID     string
	Unit        string
	Outstanding int64
	OrdersTotal int64
	ProviderOrg int64
	FirstAt     time.Time
}
