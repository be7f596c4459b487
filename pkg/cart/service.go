package cart

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so recording can run inside the
// checkout transaction boundary.
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

// AddItem creates a pending cart item
func (s *PostgresService) AddItem(item *Item) error {
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	query := `
		INSERT INTO cart_items (user_id, plan_id, option_index, use_charge_id, quantity,
		                        sync_on, email, full_name, coupon_id, recorded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(query, item.UserID, item.PlanID, item.OptionIndex, item.UseChargeID,
		item.Quantity, item.SyncOn, item.Email, item.FullName, item.CouponID).
		Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

// GetItem retrieves a cart item by ID
func (s *PostgresService) GetItem(id int64) (*Item, error) {
	query := `
		SELECT id, user_id, plan_id, option_index, use_charge_id, quantity,
		       sync_on, email, full_name, coupon_id, recorded, created_at
		FROM cart_items
		WHERE id = $1
	`
	item := &Item{}
	err := s.db.QueryRow(query, id).Scan(
		&item.ID, &item.UserID, &item.PlanID, &item.OptionIndex, &item.UseChargeID,
		&item.Quantity, &item.SyncOn, &item.Email, &item.FullName, &item.CouponID,
		&item.Recorded, &item.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cart item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	return item, nil
}

// ListPending returns the user's unrecorded items, oldest first
func (s *PostgresService) ListPending(userID int64) ([]*Item, error) {
	query := `
		SELECT id, user_id, plan_id, option_index, use_charge_id, quantity,
		       sync_on, email, full_name, coupon_id, recorded, created_at
		FROM cart_items
		WHERE user_id = $1 AND recorded = false
		ORDER BY created_at, id
	`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item := &Item{}
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.PlanID, &item.OptionIndex, &item.UseChargeID,
			&item.Quantity, &item.SyncOn, &item.Email, &item.FullName, &item.CouponID,
			&item.Recorded, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkRecordedIn flips a pending item to recorded inside the caller's
// transaction. An already-recorded item is an error: it means two checkouts
// raced on the same cart.
func MarkRecordedIn(ctx context.Context, db DBTX, itemID int64) error {
	result, err := db.ExecContext(ctx, `
		UPDATE cart_items SET recorded = true WHERE id = $1 AND recorded = false
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to mark cart item recorded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cart item %d already recorded", itemID)
	}
	return nil
}

// SelectOption records the buyer's prepay choice on a pending item
func (s *PostgresService) SelectOption(itemID int64, optionIndex int) error {
	result, err := s.db.Exec(`
		UPDATE cart_items SET option_index = $1 WHERE id = $2 AND recorded = false
	`, optionIndex, itemID)
	if err != nil {
		return fmt.Errorf("failed to select option: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cart item not found or already recorded")
	}
	return nil
}

// RemoveItem deletes a pending item
func (s *PostgresService) RemoveItem(itemID int64) error {
	result, err := s.db.Exec(`DELETE FROM cart_items WHERE id = $1 AND recorded = false`, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cart item not found or already recorded")
	}
	return nil
}
