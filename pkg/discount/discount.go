// Package discount computes the payable amount for purchasing N periods of a
// plan, resolving advance-discount tiers and coupons into an ordered list of
// prepay options. Everything here is pure integer arithmetic in minor
// currency units; callers feed in the prorated amount from pkg/period.
package discount

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/abacus/pkg/coupon"
	"github.com/platinummonkey/abacus/pkg/period"
	"github.com/platinummonkey/abacus/pkg/plan"
)

// ErrFreeFirstPeriod is returned when a tier/coupon combination would make
// the base 1-period option free. At least one priced option must remain.
var ErrFreeFirstPeriod = errors.New("discounts would make the first period free")

// Option is one prepay choice: pay Amount now, be covered through EndsAt.
type Option struct {
	Amount    int64     `json:"amount"`
	Descr     string    `json:"descr"`
	NbPeriods int       `json:"nb_periods"`
	EndsAt    time.Time `json:"ends_at"`
}

// Input carries everything the option computation needs. Tiers must be
// ordered by ascending Length (pkg/plan guarantees this).
type Input struct {
	Plan           *plan.Plan
	ProratedAmount int64
	Coupon         *coupon.Coupon
	Start          time.Time
}

// Amount returns the discount amount for a single discount rule applied to
// full. The switch is exhaustive over plan.DiscountType; an unknown type is
// a programming error and discounts nothing.
func Amount(full int64, dt plan.DiscountType, value, periodAmount int64) int64 {
	switch dt {
	case plan.DiscountPercentage:
		// value is in basis points, 10000 = 100%; round half up.
		return (full*value + 5000) / 10000
	case plan.DiscountCurrency:
		if value > full {
			return full
		}
		return value
	case plan.DiscountPeriod:
		return value * periodAmount
	default:
		return 0
	}
}

// Options resolves the offerable prepay options for a plan. The first option
// is always the implicit 1-period base price; each advance-discount tier adds
// one more. Tier and coupon discounts are summed, not compounded, then
// subtracted once; results are floored at zero and fully-discounted tier
// options are dropped from the offer. A combination that would zero the base
// option is rejected with ErrFreeFirstPeriod.
func Options(in Input) ([]Option, error) {
	p := in.Plan
	var opts []Option

	base, err := buildOption(in, nil, 1)
	if err != nil {
		return nil, err
	}
	if base.Amount <= 0 {
		return nil, ErrFreeFirstPeriod
	}
	opts = append(opts, base)

	for i := range p.AdvanceDiscounts {
		tier := &p.AdvanceDiscounts[i]
		opt, err := buildOption(in, tier, tier.Length)
		if err != nil {
			return nil, err
		}
		if opt.Amount <= 0 {
			// Fully discounted: drop, never offer a free or negative price.
			continue
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func buildOption(in Input, tier *plan.AdvanceDiscount, nbPeriods int) (Option, error) {
	p := in.Plan
	full := in.ProratedAmount + int64(nbPeriods)*p.PeriodAmount

	var discounted int64
	if tier != nil {
		discounted += Amount(full, tier.DiscountType, tier.DiscountValue, p.PeriodAmount)
	}
	if in.Coupon != nil && in.Coupon.Usable(in.Start) && in.Coupon.AppliesTo(p.ID) {
		discounted += Amount(full, in.Coupon.DiscountType, in.Coupon.DiscountValue, p.PeriodAmount)
	}

	amount := full - discounted
	if amount < 0 {
		amount = 0
	}

	endsAt := period.EndOfPeriod(in.Start, p.PeriodType, p.PeriodLength, nbPeriods)
	descr := fmt.Sprintf("%s x%d", p.Name, nbPeriods)
	if in.ProratedAmount > 0 {
		descr += " (prorated)"
	}
	return Option{
		Amount:    amount,
		Descr:     descr,
		NbPeriods: nbPeriods,
		EndsAt:    endsAt,
	}, nil
}
