package coupon

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/abacus/pkg/plan"
)

var couponCols = []string{"id", "provider_org_id", "code", "discount_type", "discount_value",
	"plan_id", "ends_at", "nb_attempts", "created_at"}

func TestCouponUsable(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		coupon Coupon
		want   bool
	}{
		{"active", Coupon{NbAttempts: 1}, true},
		{"active with future expiry", Coupon{NbAttempts: 1, EndsAt: &future}, true},
		{"exhausted", Coupon{NbAttempts: 0}, false},
		{"expired", Coupon{NbAttempts: 1, EndsAt: &past}, false},
		{"expires exactly now", Coupon{NbAttempts: 1, EndsAt: &now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.coupon.Usable(now))
		})
	}
}

func TestCouponAppliesTo(t *testing.T) {
	planID := int64(7)
	unrestricted := Coupon{}
	restricted := Coupon{PlanID: &planID}

	assert.True(t, unrestricted.AppliesTo(7))
	assert.True(t, unrestricted.AppliesTo(8))
	assert.True(t, restricted.AppliesTo(7))
	assert.False(t, restricted.AppliesTo(8))
}

func TestRedeem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(20), "WELCOME10").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(int64(3), int64(20), "WELCOME10", int(plan.DiscountPercentage), int64(1000), nil, nil, 5, now))
	mock.ExpectExec("UPDATE cart_items").
		WithArgs(int64(3), int64(1), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE coupons SET nb_attempts").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := svc.Redeem(1, 20, "WELCOME10", now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemUnknownCodeIsSoftFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(20), "NOPE").
		WillReturnRows(sqlmock.NewRows(couponCols))
	mock.ExpectRollback()

	applied, err := svc.Redeem(1, 20, "NOPE", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRedeemExhaustedCouponConsumesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(20), "WELCOME10").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(int64(3), int64(20), "WELCOME10", int(plan.DiscountPercentage), int64(1000), nil, nil, 0, now))
	mock.ExpectRollback()

	applied, err := svc.Redeem(1, 20, "WELCOME10", now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemPlanRestrictedNoMatchingItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(20), "TEAM50").
		WillReturnRows(sqlmock.NewRows(couponCols).
			AddRow(int64(4), int64(20), "TEAM50", int(plan.DiscountCurrency), int64(5000), int64(7), nil, 1, now))
	mock.ExpectExec("UPDATE cart_items").
		WithArgs(int64(4), int64(1), int64(20), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := svc.Redeem(1, 20, "TEAM50", now)
	require.NoError(t, err)
	assert.False(t, applied, "no eligible item must not consume an attempt")
	assert.NoError(t, mock.ExpectationsWereMet())
}
