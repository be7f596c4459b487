package plan

import (
	"fmt"
	"time"
)

// PeriodType is the natural calendar interval a plan bills on.
type PeriodType int

const (
	PeriodHourly PeriodType = iota
	PeriodDaily
	PeriodWeekly
	PeriodMonthly
	PeriodYearly
)

func (p PeriodType) String() string {
	switch p {
	case PeriodHourly:
		return "hourly"
	case PeriodDaily:
		return "daily"
	case PeriodWeekly:
		return "weekly"
	case PeriodMonthly:
		return "monthly"
	case PeriodYearly:
		return "yearly"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

// ParsePeriodType parses a period type name as stored in the catalog
func ParsePeriodType(s string) (PeriodType, error) {
	switch s {
	case "hourly":
		return PeriodHourly, nil
	case "daily":
		return PeriodDaily, nil
	case "weekly":
		return PeriodWeekly, nil
	case "monthly":
		return PeriodMonthly, nil
	case "yearly":
		return PeriodYearly, nil
	default:
		return 0, fmt.Errorf("unknown period type: %q", s)
	}
}

// DiscountType is a closed set of discount semantics. New categories must be
// added here and handled exhaustively in the discount engine.
type DiscountType int

const (
	// DiscountPercentage discounts a fraction of the full amount, expressed
	// in basis points (10000 = 100%).
	DiscountPercentage DiscountType = iota
	// DiscountCurrency discounts a fixed amount in minor currency units,
	// capped at the full amount.
	DiscountCurrency
	// DiscountPeriod discounts whole periods worth of the plan's period amount.
	DiscountPeriod
)

func (d DiscountType) String() string {
	switch d {
	case DiscountPercentage:
		return "percentage"
	case DiscountCurrency:
		return "currency"
	case DiscountPeriod:
		return "period"
	default:
		return fmt.Sprintf("discount(%d)", int(d))
	}
}

// ParseDiscountType parses a discount type name
func ParseDiscountType(s string) (DiscountType, error) {
	switch s {
	case "percentage":
		return DiscountPercentage, nil
	case "currency":
		return DiscountCurrency, nil
	case "period":
		return DiscountPeriod, nil
	default:
		return 0, fmt.Errorf("unknown discount type: %q", s)
	}
}

// RenewalType controls what happens when a subscription's coverage runs out.
type RenewalType int

const (
	RenewalOneTime RenewalType = iota
	RenewalAutoRenew
	RenewalRepeat
)

func (r RenewalType) String() string {
	switch r {
	case RenewalOneTime:
		return "one-time"
	case RenewalAutoRenew:
		return "auto-renew"
	case RenewalRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("renewal(%d)", int(r))
	}
}

// ParseRenewalType parses a renewal type name
func ParseRenewalType(s string) (RenewalType, error) {
	switch s {
	case "one-time":
		return RenewalOneTime, nil
	case "auto-renew":
		return RenewalAutoRenew, nil
	case "repeat":
		return RenewalRepeat, nil
	default:
		return 0, fmt.Errorf("unknown renewal type: %q", s)
	}
}

// Plan is a subscription offering owned by a provider organization.
// All amounts are integers in minor currency units.
type Plan struct {
	ID            int64       `json:"id"`
	ProviderOrgID int64       `json:"provider_org_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	PeriodAmount  int64       `json:"period_amount"`
	PeriodLength  int         `json:"period_length"`
	PeriodType    PeriodType  `json:"period_type"`
	Unit          string      `json:"unit"`
	SetupAmount   int64       `json:"setup_amount"`
	RenewalType   RenewalType `json:"renewal_type"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	AdvanceDiscounts []AdvanceDiscount `json:"advance_discounts,omitempty"`
	UseCharges       []UseCharge       `json:"use_charges,omitempty"`
}

// AdvanceDiscount is a prepay tier: buy Length plan-periods up front, get the
// discount. Tiers are kept ordered by ascending Length.
type AdvanceDiscount struct {
	ID            int64        `json:"id"`
	PlanID        int64        `json:"plan_id"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	Length        int          `json:"length"`
}

// UseCharge is a variable-pricing rule priced per use rather than per period.
type UseCharge struct {
	ID         int64  `json:"id"`
	PlanID     int64  `json:"plan_id"`
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
}

// Service defines the interface for plan catalog operations
type Service interface {
	CreatePlan(p *Plan) error
	GetPlan(id int64) (*Plan, error)
	ListPlans(providerOrgID int64) ([]*Plan, error)
	GetUseCharge(id int64) (*UseCharge, error)
}
