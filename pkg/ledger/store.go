package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx. Ledger-mutating callers pass
// their open transaction so appends share the caller's atomic boundary;
// read-only callers pass a replica connection.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Reader is the read side of the ledger, safe against a snapshot.
type Reader interface {
	Balance(ctx context.Context, orgID int64, account Account, unit string, before time.Time) (int64, error)
	Balances(ctx context.Context, orgID int64, account Account, before time.Time) (map[string]int64, error)
	ReceivableByEvent(ctx context.Context, orgID int64, before time.Time) ([]EventBalance, error)
	ByEventID(ctx context.Context, eventID string) ([]*Transaction, error)
}

// Writer appends transactions. Rows are append-only; there is no update or
// delete anywhere in this package.
type Writer interface {
	AppendPair(ctx context.Context, t *Transaction) error
}

// Store is the PostgreSQL ledger store. Balance convention: the balance of
// account A for organization O is the sum of orig legs landing on (A, O)
// minus the sum of dest legs landing on (A, O). An order's
// Receivable→Payable row therefore raises the customer's Receivable balance,
// and the later Funds→Receivable payment row lowers it back to zero.
type Store struct {
	db DBTX
}

// NewStore creates a Store over a database handle or open transaction
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// AppendPair validates and appends one transaction
func (s *Store) AppendPair(ctx context.Context, t *Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("refusing to append transaction: %w", err)
	}
	descrJSON, err := json.Marshal(t.Descr)
	if err != nil {
		return fmt.Errorf("failed to marshal descr: %w", err)
	}
	query := `
		INSERT INTO transactions (event_id, descr, orig_amount, orig_unit, orig_account, orig_org_id,
		                          dest_amount, dest_unit, dest_account, dest_org_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err = s.db.QueryRowContext(ctx, query, t.EventID, descrJSON,
		t.OrigAmount, t.OrigUnit, int(t.OrigAccount), t.OrigOrgID,
		t.DestAmount, t.DestUnit, int(t.DestAccount), t.DestOrgID).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// Balance returns the balance of one account for one organization in one
// unit, counting entries strictly before the given instant.
func (s *Store) Balance(ctx context.Context, orgID int64, account Account, unit string, before time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM (
			SELECT orig_amount AS amount FROM transactions
			WHERE orig_account = $1 AND orig_org_id = $2 AND orig_unit = $3 AND created_at < $4
			UNION ALL
			SELECT -dest_amount AS amount FROM transactions
			WHERE dest_account = $1 AND dest_org_id = $2 AND dest_unit = $3 AND created_at < $4
		) legs
	`
	var balance int64
	err := s.db.QueryRowContext(ctx, query, int(account), orgID, unit, before).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance: %w", err)
	}
	return balance, nil
}

// Balances returns per-unit balances of one account for one organization.
// Units are never summed together.
func (s *Store) Balances(ctx context.Context, orgID int64, account Account, before time.Time) (map[string]int64, error) {
	query := `
		SELECT unit, SUM(amount) FROM (
			SELECT orig_unit AS unit, orig_amount AS amount FROM transactions
			WHERE orig_account = $1 AND orig_org_id = $2 AND created_at < $3
			UNION ALL
			SELECT dest_unit AS unit, -dest_amount AS amount FROM transactions
			WHERE dest_account = $1 AND dest_org_id = $2 AND created_at < $3
		) legs
		GROUP BY unit
	`
	rows, err := s.db.QueryContext(ctx, query, int(account), orgID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]int64)
	for rows.Next() {
		var unit string
		var amount int64
		if err := rows.Scan(&unit, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances[unit] = amount
	}
	return balances, rows.Err()
}

// ReceivableByEvent returns, per event, the outstanding Receivable amount of
// an organization, the total originally ordered, and the provider the amount
// is owed to. Results are ordered oldest-first so settlement walks apply
// payments to the oldest debt first.
func (s *Store) ReceivableByEvent(ctx context.Context, orgID int64, before time.Time) ([]EventBalance, error) {
	query := `
		WITH orders AS (
			SELECT event_id, orig_unit AS unit,
			       SUM(orig_amount) AS total,
			       MIN(created_at) AS first_at,
			       MIN(dest_org_id) AS provider_org
			FROM transactions
			WHERE orig_account = $1 AND orig_org_id = $2 AND created_at < $3
			GROUP BY event_id, orig_unit
		), settled AS (
			SELECT event_id, dest_unit AS unit, SUM(dest_amount) AS total
			FROM transactions
			WHERE dest_account = $1 AND dest_org_id = $2 AND created_at < $3
			GROUP BY event_id, dest_unit
		)
		SELECT o.event_id, o.unit, o.total - COALESCE(s.total, 0), o.total, o.provider_org, o.first_at
		FROM orders o
		LEFT JOIN settled s ON s.event_id = o.event_id AND s.unit = o.unit
		WHERE o.total - COALESCE(s.total, 0) > 0
		ORDER BY o.first_at, o.event_id
	`
	rows, err := s.db.QueryContext(ctx, query, int(Receivable), orgID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to compute receivable by event: %w", err)
	}
	defer rows.Close()

	var out []EventBalance
	for rows.Next() {
		var eb EventBalance
		if err := rows.Scan(&eb.EventID, &eb.Unit, &eb.Outstanding, &eb.OrdersTotal, &eb.ProviderOrg, &eb.FirstAt); err != nil {
			return nil, fmt.Errorf("failed to scan event balance: %w", err)
		}
		out = append(out, eb)
	}
	return out, rows.Err()
}

// ByEventID returns all transactions sharing an event, oldest first
func (s *Store) ByEventID(ctx context.Context, eventID string) ([]*Transaction, error) {
	query := `
		SELECT id, created_at, event_id, descr, orig_amount, orig_unit, orig_account, orig_org_id,
		       dest_amount, dest_unit, dest_account, dest_org_id
		FROM transactions
		WHERE event_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var descrJSON []byte
		var origAccount, destAccount int
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.EventID, &descrJSON,
			&t.OrigAmount, &t.OrigUnit, &origAccount, &t.OrigOrgID,
			&t.DestAmount, &t.DestUnit, &destAccount, &t.DestOrgID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.OrigAccount = Account(origAccount)
		t.DestAccount = Account(destAccount)
		if len(descrJSON) > 0 {
			if err := json.Unmarshal(descrJSON, &t.Descr); err != nil {
				return nil, fmt.Errorf("failed to unmarshal descr: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
