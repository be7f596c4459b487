package invoicing

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/abacus/pkg/discount"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

// ErrSubscriberNotFound is returned when a cart item cannot be resolved to a
// billable party. Recoverable by prompting the buyer for an email.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// RefKind tags a subscription reference as an in-memory draft or a persisted
// row. Engines must branch on the tag: a draft has no ID and no ledger event
// until checkout persists it.
type RefKind int

const (
	Pending RefKind = iota
	Committed
)

// SubscriptionRef is a tagged reference to the subscription an invoicable
// concerns. Pending refs carry a fully-populated draft that checkout will
// persist; committed refs carry the durable row.
type SubscriptionRef struct {
	Kind RefKind
	Sub  subscription.Subscription
}

// String is the stable sort key for invoicable ordering. Repeated invoicing
// calls with no intervening mutation must order identically, so checkout
// replays stay idempotent.
func (r SubscriptionRef) String() string {
	if r.Kind == Committed {
		return fmt.Sprintf("sub-%010d", r.Sub.ID)
	}
	return fmt.Sprintf("pending-%010d-%010d", r.Sub.OrgID, r.Sub.PlanID)
}

// EventID returns the ledger event id, or empty for drafts
func (r SubscriptionRef) EventID() string {
	if r.Kind == Committed {
		return r.Sub.EventID()
	}
	return ""
}

// Line is one committed order line, ready for checkout to turn into ledger
// transactions. PayerOrgID is always the paying customer, even for group
// buys where SubscriberOrgID differs.
type Line struct {
	CartItemID int64     `json:"cart_item_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Descr      string    `json:"descr"`
	Amount     int64     `json:"amount"`
	Unit       string    `json:"unit"`
	NbPeriods  int       `json:"nb_periods,omitempty"`
	EndsAt     time.Time `json:"ends_at,omitempty"`

	SubscriberOrgID int64 `json:"subscriber_org_id"`
	PayerOrgID      int64 `json:"payer_org_id"`
	ProviderOrgID   int64 `json:"provider_org_id"`

	// BalanceDue marks a line whose Receivable entry already exists in the
	// ledger. Checkout must not append a fresh order pair for it, only
	// settle it.
	BalanceDue bool `json:"balance_due,omitempty"`
	// Statement marks a balance-due line synthesized because the underlying
	// order lines no longer summed to the outstanding balance.
	Statement bool `json:"statement,omitempty"`
}

// Invoicable is one subscription's worth of billable content: committed
// lines plus, when the buyer still has a choice to make, prepay options.
type Invoicable struct {
	Subscription SubscriptionRef   `json:"subscription"`
	PlanID       int64             `json:"plan_id"`
	Lines        []Line            `json:"lines,omitempty"`
	Options      []discount.Option `json:"options,omitempty"`
	// CartItemID links back to the pending cart item, 0 for balance-due
	// invoicables.
	CartItemID int64 `json:"cart_item_id,omitempty"`
}

// Query is the explicit request context for invoicing: the acting user, the
// paying customer organization, and the evaluation instant.
type Query struct {
	UserID        int64
	CustomerOrgID int64
	At            time.Time
	// ProrateTo, when set, aligns new coverage to a fixed billing-cycle
	// boundary by adding a prorated partial-period amount.
	ProrateTo time.Time
}
