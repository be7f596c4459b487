// Package period computes billing-period boundaries and proration amounts.
// All functions are pure and all money math is integer arithmetic in minor
// currency units.
package period

import (
	"time"

	"github.com/platinummonkey/abacus/pkg/plan"
)

// EndOfPeriod returns the instant nbPeriods plan-periods after start. Monthly
// and yearly periods are calendar-aware: overflow normalizes the way
// time.AddDate does (Jan 31 + 1 month lands in early March).
func EndOfPeriod(start time.Time, pt plan.PeriodType, periodLength, nbPeriods int) time.Time {
	if nbPeriods < 0 {
		nbPeriods = 0
	}
	total := periodLength * nbPeriods
	switch pt {
	case plan.PeriodHourly:
		return start.Add(time.Duration(total) * time.Hour)
	case plan.PeriodDaily:
		return start.AddDate(0, 0, total)
	case plan.PeriodWeekly:
		return start.AddDate(0, 0, 7*total)
	case plan.PeriodMonthly:
		return start.AddDate(0, total, 0)
	case plan.PeriodYearly:
		return start.AddDate(total, 0, 0)
	default:
		return start
	}
}

// ProratePeriod returns the amount owed to shift a subscription created at
// createdAt so its paid-through date aligns with prorateTo. The result is
// linearly interpolated between 0 (already aligned) and one full PeriodAmount
// (a full period's worth of drift), never negative.
func ProratePeriod(p *plan.Plan, createdAt, prorateTo time.Time) int64 {
	if !prorateTo.After(createdAt) {
		return 0
	}
	periodEnd := EndOfPeriod(createdAt, p.PeriodType, p.PeriodLength, 1)
	periodSecs := int64(periodEnd.Sub(createdAt) / time.Second)
	if periodSecs <= 0 {
		return 0
	}
	driftSecs := int64(prorateTo.Sub(createdAt) / time.Second)
	if driftSecs >= periodSecs {
		return p.PeriodAmount
	}
	return p.PeriodAmount * driftSecs / periodSecs
}
