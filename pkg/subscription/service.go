package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so the write operations can run
// inside a caller-owned transaction boundary.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// GetSubscription retrieves a subscription by ID
func (s *PostgresService) GetSubscription(id int64) (*Subscription, error) {
	sub := &Subscription{}
	err := s.db.QueryRow(`
		SELECT id, org_id, plan_id, created_at, ends_at, auto_renew
		FROM subscriptions
		WHERE id = $1
	`, id).Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.CreatedAt, &sub.EndsAt, &sub.AutoRenew)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetActive returns the subscription for (org, plan) covering at; nil if none
func (s *PostgresService) GetActive(orgID, planID int64, at time.Time) (*Subscription, error) {
	sub := &Subscription{}
	err := s.db.QueryRow(`
		SELECT id, org_id, plan_id, created_at, ends_at, auto_renew
		FROM subscriptions
		WHERE org_id = $1 AND plan_id = $2 AND ends_at > $3
		ORDER BY ends_at DESC
		LIMIT 1
	`, orgID, planID, at).Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.CreatedAt, &sub.EndsAt, &sub.AutoRenew)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ListRenewable returns auto-renewing subscriptions past their coverage end
func (s *PostgresService) ListRenewable(orgID int64, at time.Time) ([]*Subscription, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, plan_id, created_at, ends_at, auto_renew
		FROM subscriptions
		WHERE org_id = $1 AND auto_renew = true AND ends_at <= $2
		ORDER BY ends_at, id
	`, orgID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.CreatedAt, &sub.EndsAt, &sub.AutoRenew); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListExpiring returns auto-renewing subscriptions across all organizations
// past their coverage end, oldest first
func (s *PostgresService) ListExpiring(at time.Time, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, org_id, plan_id, created_at, ends_at, auto_renew
		FROM subscriptions
		WHERE auto_renew = true AND ends_at <= $1
		ORDER BY ends_at, id
		LIMIT $2
	`, at, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.CreatedAt, &sub.EndsAt, &sub.AutoRenew); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CreateIn inserts a subscription inside the caller's transaction
func CreateIn(ctx context.Context, db DBTX, sub *Subscription) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (org_id, plan_id, created_at, ends_at, auto_renew)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sub.OrgID, sub.PlanID, sub.CreatedAt, sub.EndsAt, sub.AutoRenew).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// LockActiveIn re-reads the active subscription for (org, plan) under FOR
// UPDATE inside the caller's transaction. Ledger-mutating paths call this to
// re-validate coverage right before writing instead of trusting an earlier
// read.
func LockActiveIn(ctx context.Context, db DBTX, orgID, planID int64, at time.Time) (*Subscription, error) {
	sub := &Subscription{}
	err := db.QueryRowContext(ctx, `
		SELECT id, org_id, plan_id, created_at, ends_at, auto_renew
		FROM subscriptions
		WHERE org_id = $1 AND plan_id = $2 AND ends_at > $3
		ORDER BY ends_at DESC
		LIMIT 1
		FOR UPDATE
	`, orgID, planID, at).Scan(&sub.ID, &sub.OrgID, &sub.PlanID, &sub.CreatedAt, &sub.EndsAt, &sub.AutoRenew)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock active subscription: %w", err)
	}
	return sub, nil
}

// ExtendIn moves a subscription's coverage end inside the caller's
// transaction. It refuses to shrink coverage.
func ExtendIn(ctx context.Context, db DBTX, id int64, endsAt time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE subscriptions SET ends_at = $1 WHERE id = $2 AND ends_at < $1
	`, endsAt, id)
	if err != nil {
		return fmt.Errorf("failed to extend subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Already covered past endsAt; nothing to do.
		return nil
	}
	return nil
}
