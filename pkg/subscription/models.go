package subscription

import (
	"fmt"
	"time"
)

// Subscription relates one subscriber organization to one plan. EndsAt is
// the exclusive upper bound of paid-for coverage: past means expired, future
// means active. At most one subscription per (org, plan) may be active at a
// time; the invoicing engine extends the existing active row instead of
// creating an overlapping one.
type Subscription struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	PlanID    int64     `json:"plan_id"`
	CreatedAt time.Time `json:"created_at"`
	EndsAt    time.Time `json:"ends_at"`
	AutoRenew bool      `json:"auto_renew"`
}

// Active reports whether the subscription covers the given instant
func (s *Subscription) Active(at time.Time) bool {
	return s.EndsAt.After(at)
}

// EventID is the synthetic ledger event identifier of this subscription.
// Every transaction about it (order, payment, write-off) shares this value.
func (s *Subscription) EventID() string {
	return fmt.Sprintf("sub-%d", s.ID)
}

// Service defines the interface for subscription operations
type Service interface {
	GetSubscription(id int64) (*Subscription, error)
	// GetActive returns the subscription for (org, plan) whose coverage
	// extends past at; (nil, nil) when there is none.
	GetActive(orgID, planID int64, at time.Time) (*Subscription, error)
	// ListRenewable returns auto-renewing subscriptions of the organization
	// whose coverage ran out at or before the given instant.
	ListRenewable(orgID int64, at time.Time) ([]*Subscription, error)
	// ListExpiring returns auto-renewing subscriptions across all
	// organizations whose coverage ran out at or before the given instant,
	// oldest first, capped at limit. The renewal sweep pages through this.
	ListExpiring(at time.Time, limit int) ([]*Subscription, error)
}
