package coupon

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/abacus/pkg/plan"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateCoupon creates a coupon
func (s *PostgresService) CreateCoupon(c *Coupon) error {
	query := `
		INSERT INTO coupons (provider_org_id, code, discount_type, discount_value, plan_id, ends_at, nb_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(query, c.ProviderOrgID, c.Code, int(c.DiscountType),
		c.DiscountValue, c.PlanID, c.EndsAt, c.NbAttempts).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// GetCoupon retrieves a coupon by ID
func (s *PostgresService) GetCoupon(id int64) (*Coupon, error) {
	return scanCoupon(s.db.QueryRow(`
		SELECT id, provider_org_id, code, discount_type, discount_value, plan_id, ends_at, nb_attempts, created_at
		FROM coupons
		WHERE id = $1
	`, id))
}

// Redeem applies an active coupon to the user's eligible pending cart items
// for the coupon's provider. The whole redemption is one transaction: either
// the coupon is attached to at least one item and an attempt is consumed, or
// nothing changes at all.
func (s *PostgresService) Redeem(userID, providerOrgID int64, code string, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Case-sensitive match; FOR UPDATE so two concurrent redemptions
	// cannot both consume the last attempt.
	c, err := scanCoupon(tx.QueryRow(`
		SELECT id, provider_org_id, code, discount_type, discount_value, plan_id, ends_at, nb_attempts, created_at
		FROM coupons
		WHERE provider_org_id = $1 AND code = $2
		FOR UPDATE
	`, providerOrgID, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown code is a soft failure, not an error.
			return false, nil
		}
		return false, err
	}
	if !c.Usable(now) {
		return false, nil
	}

	// Eligible items: pending, belong to the user, reference a plan of this
	// provider, and for plan-restricted coupons that exact plan.
	query := `
		UPDATE cart_items ci
		SET coupon_id = $1
		FROM plans p
		WHERE ci.plan_id = p.id
		  AND ci.user_id = $2
		  AND ci.recorded = false
		  AND p.provider_org_id = $3
	`
	args := []interface{}{c.ID, userID, providerOrgID}
	if c.PlanID != nil {
		query += " AND ci.plan_id = $4"
		args = append(args, *c.PlanID)
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to apply coupon: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// No eligible item: do not consume an attempt.
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE coupons SET nb_attempts = nb_attempts - 1 WHERE id = $1`, c.ID); err != nil {
		return false, fmt.Errorf("failed to consume coupon attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit redemption: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCoupon(row rowScanner) (*Coupon, error) {
	c := &Coupon{}
	var discountType int
	err := row.Scan(&c.ID, &c.ProviderOrgID, &c.Code, &discountType,
		&c.DiscountValue, &c.PlanID, &c.EndsAt, &c.NbAttempts, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("coupon not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan coupon: %w", err)
	}
	c.DiscountType = plan.DiscountType(discountType)
	return c, nil
}
