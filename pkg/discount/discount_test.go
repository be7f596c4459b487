package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/abacus/pkg/coupon"
	"github.com/platinummonkey/abacus/pkg/plan"
)

var start = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func monthlyPlan(periodAmount int64) *plan.Plan {
	return &plan.Plan{
		ID:           7,
		Name:         "team",
		PeriodAmount: periodAmount,
		PeriodLength: 1,
		PeriodType:   plan.PeriodMonthly,
		Unit:         "USD",
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		name         string
		full         int64
		discountType plan.DiscountType
		value        int64
		periodAmount int64
		want         int64
	}{
		{"percentage in basis points", 6000, plan.DiscountPercentage, 1000, 2000, 600},
		{"percentage rounds half up", 1001, plan.DiscountPercentage, 2500, 2000, 250},
		{"full percentage", 6000, plan.DiscountPercentage, 10000, 2000, 6000},
		{"currency", 6000, plan.DiscountCurrency, 500, 2000, 500},
		{"currency capped at full", 6000, plan.DiscountCurrency, 9000, 2000, 6000},
		{"whole periods", 6000, plan.DiscountPeriod, 2, 2000, 4000},
		{"unknown type discounts nothing", 6000, plan.DiscountType(99), 500, 2000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Amount(tt.full, tt.discountType, tt.value, tt.periodAmount))
		})
	}
}

func TestOptionsBaseOnly(t *testing.T) {
	opts, err := Options(Input{Plan: monthlyPlan(2000), Start: start})
	require.NoError(t, err)
	require.Len(t, opts, 1)

	assert.Equal(t, int64(2000), opts[0].Amount)
	assert.Equal(t, 1, opts[0].NbPeriods)
	assert.Equal(t, "team x1", opts[0].Descr)
	assert.True(t, opts[0].EndsAt.Equal(start.AddDate(0, 1, 0)))
}

func TestOptionsWithAdvanceTier(t *testing.T) {
	p := monthlyPlan(2000)
	p.AdvanceDiscounts = []plan.AdvanceDiscount{
		{PlanID: p.ID, DiscountType: plan.DiscountPercentage, DiscountValue: 1000, Length: 3},
	}

	opts, err := Options(Input{Plan: p, Start: start})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	// Base: one period at list price.
	assert.Equal(t, int64(2000), opts[0].Amount)
	// Tier: 3 periods at 6000 minus 10%.
	assert.Equal(t, int64(5400), opts[1].Amount)
	assert.Equal(t, 3, opts[1].NbPeriods)
	assert.True(t, opts[1].EndsAt.Equal(start.AddDate(0, 3, 0)))
}

func TestOptionsTierAndCouponSumNotCompound(t *testing.T) {
	p := monthlyPlan(2000)
	p.AdvanceDiscounts = []plan.AdvanceDiscount{
		{PlanID: p.ID, DiscountType: plan.DiscountCurrency, DiscountValue: 500, Length: 3},
	}
	c := &coupon.Coupon{
		DiscountType:  plan.DiscountPercentage,
		DiscountValue: 1000,
		NbAttempts:    1,
	}

	opts, err := Options(Input{Plan: p, Coupon: c, Start: start})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	// Base: 2000 - 10% coupon = 1800.
	assert.Equal(t, int64(1800), opts[0].Amount)
	// Tier: 6000 - (500 tier + 600 coupon), each computed on the full 6000.
	assert.Equal(t, int64(4900), opts[1].Amount)
}

func TestOptionsCouponRestrictions(t *testing.T) {
	otherPlan := int64(99)
	expired := start.Add(-time.Hour)

	tests := []struct {
		name   string
		coupon *coupon.Coupon
	}{
		{"expired", &coupon.Coupon{DiscountType: plan.DiscountCurrency, DiscountValue: 500, NbAttempts: 1, EndsAt: &expired}},
		{"exhausted", &coupon.Coupon{DiscountType: plan.DiscountCurrency, DiscountValue: 500, NbAttempts: 0}},
		{"other plan", &coupon.Coupon{DiscountType: plan.DiscountCurrency, DiscountValue: 500, NbAttempts: 1, PlanID: &otherPlan}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Options(Input{Plan: monthlyPlan(2000), Coupon: tt.coupon, Start: start})
			require.NoError(t, err)
			require.Len(t, opts, 1)
			assert.Equal(t, int64(2000), opts[0].Amount, "ineligible coupon must not discount")
		})
	}
}

func TestOptionsProratedAmountAddedToEveryOption(t *testing.T) {
	p := monthlyPlan(2000)
	p.AdvanceDiscounts = []plan.AdvanceDiscount{
		{PlanID: p.ID, DiscountType: plan.DiscountPeriod, DiscountValue: 1, Length: 6},
	}

	opts, err := Options(Input{Plan: p, ProratedAmount: 700, Start: start})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	assert.Equal(t, int64(2700), opts[0].Amount)
	assert.Equal(t, "team x1 (prorated)", opts[0].Descr)
	// 700 + 6*2000 - one free period.
	assert.Equal(t, int64(10700), opts[1].Amount)
}

func TestOptionsFullyDiscountedTierDropped(t *testing.T) {
	p := monthlyPlan(2000)
	p.AdvanceDiscounts = []plan.AdvanceDiscount{
		{PlanID: p.ID, DiscountType: plan.DiscountPercentage, DiscountValue: 10000, Length: 3},
		{PlanID: p.ID, DiscountType: plan.DiscountPercentage, DiscountValue: 2000, Length: 12},
	}

	opts, err := Options(Input{Plan: p, Start: start})
	require.NoError(t, err)
	require.Len(t, opts, 2, "free tier must be dropped, priced tier kept")
	assert.Equal(t, 1, opts[0].NbPeriods)
	assert.Equal(t, 12, opts[1].NbPeriods)
	assert.Equal(t, int64(19200), opts[1].Amount)
}

func TestOptionsFreeFirstPeriodRejected(t *testing.T) {
	c := &coupon.Coupon{
		DiscountType:  plan.DiscountPercentage,
		DiscountValue: 10000,
		NbAttempts:    1,
	}
	_, err := Options(Input{Plan: monthlyPlan(2000), Coupon: c, Start: start})
	assert.ErrorIs(t, err, ErrFreeFirstPeriod)
}

func TestOptionsDiscountNeverGoesNegative(t *testing.T) {
	p := monthlyPlan(2000)
	p.AdvanceDiscounts = []plan.AdvanceDiscount{
		{PlanID: p.ID, DiscountType: plan.DiscountPeriod, DiscountValue: 10, Length: 3},
	}

	opts, err := Options(Input{Plan: p, Start: start})
	require.NoError(t, err)
	// The over-discounted tier floors at zero and is dropped.
	require.Len(t, opts, 1)
}
