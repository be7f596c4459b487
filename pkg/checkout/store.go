package checkout

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists charges and their lines in PostgreSQL. State transitions are
// guarded in SQL: the UPDATE names the expected current state, so two racing
// writers cannot both win.
type Store struct {
	db *sql.DB
}

// NewStore creates a charge store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateIn inserts a charge and its lines inside the caller's transaction
func (s *Store) CreateIn(ctx context.Context, db DBTX, c *Charge) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO charges (customer_org_id, amount, unit, state, processor_ref, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, c.CustomerOrgID, c.Amount, c.Unit, string(c.State), c.ProcessorRef, c.IdempotencyKey).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create charge: %w", err)
	}
	for i := range c.Lines {
		line := &c.Lines[i]
		line.ChargeID = c.ID
		err := db.QueryRowContext(ctx, `
			INSERT INTO charge_lines (charge_id, event_id, descr, amount, unit, provider_org_id, balance_due, refunded_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
			RETURNING id
		`, line.ChargeID, line.EventID, line.Descr, line.Amount, line.Unit,
			line.ProviderOrgID, line.BalanceDue).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to create charge line: %w", err)
		}
	}
	return nil
}

// GetCharge retrieves a charge with its lines
func (s *Store) GetCharge(ctx context.Context, id int64) (*Charge, error) {
	c := &Charge{}
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_org_id, amount, unit, state, processor_ref, idempotency_key, created_at, updated_at
		FROM charges
		WHERE id = $1
	`, id).Scan(&c.ID, &c.CustomerOrgID, &c.Amount, &c.Unit, &state,
		&c.ProcessorRef, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("charge not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get charge: %w", err)
	}
	c.State = ChargeState(state)

	c.Lines, err = s.loadLines(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) loadLines(ctx context.Context, db DBTX, chargeID int64) ([]ChargeLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, charge_id, event_id, descr, amount, unit, provider_org_id, balance_due, refunded_amount
		FROM charge_lines
		WHERE charge_id = $1
		ORDER BY id
	`, chargeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge lines: %w", err)
	}
	defer rows.Close()

	var lines []ChargeLine
	for rows.Next() {
		var l ChargeLine
		if err := rows.Scan(&l.ID, &l.ChargeID, &l.EventID, &l.Descr, &l.Amount,
			&l.Unit, &l.ProviderOrgID, &l.BalanceDue, &l.RefundedAmount); err != nil {
			return nil, fmt.Errorf("failed to scan charge line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListByState returns charges in the given state, oldest first
func (s *Store) ListByState(ctx context.Context, state ChargeState) ([]*Charge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_org_id, amount, unit, state, processor_ref, idempotency_key, created_at, updated_at
		FROM charges
		WHERE state = $1
		ORDER BY created_at, id
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	defer rows.Close()

	var charges []*Charge
	for rows.Next() {
		c := &Charge{}
		var st string
		if err := rows.Scan(&c.ID, &c.CustomerOrgID, &c.Amount, &c.Unit, &st,
			&c.ProcessorRef, &c.IdempotencyKey, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		c.State = ChargeState(st)
		charges = append(charges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range charges {
		c.Lines, err = s.loadLines(ctx, s.db, c.ID)
		if err != nil {
			return nil, err
		}
	}
	return charges, nil
}

// TransitionIn moves a charge between states inside the caller's transaction.
// The expected current state is part of the WHERE clause, so a lost race
// surfaces as an InvalidTransitionError instead of silently overwriting.
func (s *Store) TransitionIn(ctx context.Context, db DBTX, id int64, from, to ChargeState, processorRef string) error {
	if !from.CanTransition(to) {
		return &InvalidTransitionError{ChargeID: id, From: from, To: to}
	}
	result, err := db.ExecContext(ctx, `
		UPDATE charges
		SET state = $1, processor_ref = COALESCE(NULLIF($2, ''), processor_ref), updated_at = NOW()
		WHERE id = $3 AND state = $4
	`, string(to), processorRef, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition charge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &InvalidTransitionError{ChargeID: id, From: from, To: to}
	}
	return nil
}

// LockLineIn re-reads a charge line under FOR UPDATE inside the caller's
// transaction. Refunds lock the line so concurrent refunds serialize on the
// refundable remainder.
func (s *Store) LockLineIn(ctx context.Context, db DBTX, lineID int64) (*ChargeLine, error) {
	l := &ChargeLine{}
	err := db.QueryRowContext(ctx, `
		SELECT id, charge_id, event_id, descr, amount, unit, provider_org_id, balance_due, refunded_amount
		FROM charge_lines
		WHERE id = $1
		FOR UPDATE
	`, lineID).Scan(&l.ID, &l.ChargeID, &l.EventID, &l.Descr, &l.Amount,
		&l.Unit, &l.ProviderOrgID, &l.BalanceDue, &l.RefundedAmount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("charge line not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock charge line: %w", err)
	}
	return l, nil
}

// AddRefundIn accumulates a refund on a line inside the caller's transaction
func (s *Store) AddRefundIn(ctx context.Context, db DBTX, lineID, amount int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE charge_lines SET refunded_amount = refunded_amount + $1 WHERE id = $2
	`, amount, lineID)
	if err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}
	return nil
}
