package orgs

import (
	"database/sql"
	"fmt"
	"strings"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateOrganization creates a new organization
func (s *PostgresService) CreateOrganization(org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	query := `
		INSERT INTO organizations (name, slug, billing_email, payment_token)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(query, org.Name, org.Slug, org.BillingEmail, org.PaymentToken).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(id int64) (*Organization, error) {
	query := `
		SELECT id, name, slug, billing_email, payment_token, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	org := &Organization{}
	err := s.db.QueryRow(query, id).Scan(
		&org.ID, &org.Name, &org.Slug, &org.BillingEmail, &org.PaymentToken,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ResolveSubscriber finds an organization by slug or billing email. A nil
// result with nil error means no match.
func (s *PostgresService) ResolveSubscriber(slugOrEmail string) (*Organization, error) {
	query := `
		SELECT id, name, slug, billing_email, payment_token, created_at, updated_at
		FROM organizations
		WHERE slug = $1 OR billing_email = $1
		ORDER BY id
		LIMIT 1
	`
	org := &Organization{}
	err := s.db.QueryRow(query, slugOrEmail).Scan(
		&org.ID, &org.Name, &org.Slug, &org.BillingEmail, &org.PaymentToken,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve subscriber: %w", err)
	}
	return org, nil
}

// CreateSubscriber creates an organization and user for a group-buy
// subscriber that does not exist yet.
func (s *PostgresService) CreateSubscriber(slug, email, fullName string) (*Organization, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	name := fullName
	if name == "" {
		name = slug
	}
	if slug == "" {
		slug = generateSlug(email)
	}

	org := &Organization{Name: name, Slug: slug, BillingEmail: email}
	err = tx.QueryRow(`
		INSERT INTO organizations (name, slug, billing_email, payment_token)
		VALUES ($1, $2, $3, '')
		RETURNING id, created_at, updated_at
	`, org.Name, org.Slug, org.BillingEmail).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber organization: %w", err)
	}

	if email != "" {
		_, err = tx.Exec(`
			INSERT INTO users (org_id, email, full_name) VALUES ($1, $2, $3)
		`, org.ID, email, fullName)
		if err != nil {
			return nil, fmt.Errorf("failed to create subscriber user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscriber: %w", err)
	}
	return org, nil
}

// SetPaymentToken stores the processor payment reference for an organization
func (s *PostgresService) SetPaymentToken(orgID int64, token string) error {
	result, err := s.db.Exec(`UPDATE organizations SET payment_token = $1 WHERE id = $2`, token, orgID)
	if err != nil {
		return fmt.Errorf("failed to set payment token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("organization not found")
	}
	return nil
}

// generateSlug derives a URL-safe slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
