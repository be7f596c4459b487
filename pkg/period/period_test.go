package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/abacus/pkg/plan"
)

func TestEndOfPeriod(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		periodType   plan.PeriodType
		periodLength int
		nbPeriods    int
		want         time.Time
	}{
		{
			name:         "hourly",
			periodType:   plan.PeriodHourly,
			periodLength: 6,
			nbPeriods:    4,
			want:         start.Add(24 * time.Hour),
		},
		{
			name:         "daily",
			periodType:   plan.PeriodDaily,
			periodLength: 10,
			nbPeriods:    3,
			want:         time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC),
		},
		{
			name:         "weekly",
			periodType:   plan.PeriodWeekly,
			periodLength: 2,
			nbPeriods:    1,
			want:         time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC),
		},
		{
			name:         "monthly",
			periodType:   plan.PeriodMonthly,
			periodLength: 1,
			nbPeriods:    3,
			want:         time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:         "yearly",
			periodType:   plan.PeriodYearly,
			periodLength: 1,
			nbPeriods:    2,
			want:         time.Date(2028, 1, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:         "zero periods",
			periodType:   plan.PeriodMonthly,
			periodLength: 1,
			nbPeriods:    0,
			want:         start,
		},
		{
			name:         "negative periods clamp to start",
			periodType:   plan.PeriodMonthly,
			periodLength: 1,
			nbPeriods:    -2,
			want:         start,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EndOfPeriod(start, tt.periodType, tt.periodLength, tt.nbPeriods)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestEndOfPeriodMonthOverflow(t *testing.T) {
	// Jan 31 + 1 month normalizes like time.AddDate: Feb 31 -> Mar 3.
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	got := EndOfPeriod(start, plan.PeriodMonthly, 1, 1)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), got)
}

func TestEndOfPeriodLeapYear(t *testing.T) {
	start := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	got := EndOfPeriod(start, plan.PeriodYearly, 1, 1)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestProratePeriod(t *testing.T) {
	// 10-day period, so the seconds math is exact.
	p := &plan.Plan{
		PeriodAmount: 3000,
		PeriodLength: 10,
		PeriodType:   plan.PeriodDaily,
	}
	createdAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		prorateTo time.Time
		want      int64
	}{
		{"aligned", createdAt, 0},
		{"prorate target in the past", createdAt.AddDate(0, 0, -1), 0},
		{"half a period of drift", createdAt.AddDate(0, 0, 5), 1500},
		{"one day of drift", createdAt.AddDate(0, 0, 1), 300},
		{"full period of drift", createdAt.AddDate(0, 0, 10), 3000},
		{"drift beyond one period caps at the period amount", createdAt.AddDate(0, 0, 25), 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProratePeriod(p, createdAt, tt.prorateTo))
		})
	}
}

func TestProratePeriodFloorsFractions(t *testing.T) {
	p := &plan.Plan{
		PeriodAmount: 1000,
		PeriodLength: 3,
		PeriodType:   plan.PeriodDaily,
	}
	createdAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// 1 of 3 days = 333.33..., integer math floors to 333.
	got := ProratePeriod(p, createdAt, createdAt.AddDate(0, 0, 1))
	assert.Equal(t, int64(333), got)
}
