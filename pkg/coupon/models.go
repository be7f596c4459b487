package coupon

import (
	"errors"
	"time"

	"github.com/platinummonkey/abacus/pkg/plan"
)

// ErrInvalid is returned when a coupon is used in a way the provider never
// allowed: expired, exhausted, or restricted to a plan the request does not
// reference. Soft mismatches during redemption report (false, nil) instead.
var ErrInvalid = errors.New("coupon invalid")

// Coupon is a provider-issued discount code. Codes are unique per provider
// and matched case-sensitively.
type Coupon struct {
	ID            int64             `json:"id"`
	ProviderOrgID int64             `json:"provider_org_id"`
	Code          string            `json:"code"`
	DiscountType  plan.DiscountType `json:"discount_type"`
	DiscountValue int64             `json:"discount_value"`
	PlanID        *int64            `json:"plan_id,omitempty"` // nil = any plan of the provider
	EndsAt        *time.Time        `json:"ends_at,omitempty"`
	NbAttempts    int               `json:"nb_attempts"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Usable reports whether the coupon can still be redeemed at now
func (c *Coupon) Usable(now time.Time) bool {
	if c.NbAttempts <= 0 {
		return false
	}
	if c.EndsAt != nil && !now.Before(*c.EndsAt) {
		return false
	}
	return true
}

// AppliesTo reports whether the coupon covers the given plan
func (c *Coupon) AppliesTo(planID int64) bool {
	return c.PlanID == nil || *c.PlanID == planID
}

// Service defines the interface for coupon operations
type Service interface {
	CreateCoupon(c *Coupon) error
	GetCoupon(id int64) (*Coupon, error)
	// Redeem looks up an active coupon for the provider matching code and
	// attaches it to every eligible pending cart item of the user. It
	// returns whether at least one item was affected; a plan-restricted
	// coupon with no matching cart item affects nothing and consumes no
	// attempt.
	Redeem(userID, providerOrgID int64, code string, now time.Time) (bool, error)
}
