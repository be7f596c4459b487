package plan

import (
	"database/sql"
	"fmt"
	"sort"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreatePlan creates a plan with its advance-discount tiers and use charges
func (s *PostgresService) CreatePlan(p *Plan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO plans (provider_org_id, name, description, period_amount, period_length,
		                   period_type, unit, setup_amount, renewal_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(query, p.ProviderOrgID, p.Name, p.Description, p.PeriodAmount,
		p.PeriodLength, int(p.PeriodType), p.Unit, p.SetupAmount, int(p.RenewalType)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	for i := range p.AdvanceDiscounts {
		d := &p.AdvanceDiscounts[i]
		d.PlanID = p.ID
		err = tx.QueryRow(`
			INSERT INTO advance_discounts (plan_id, discount_type, discount_value, length)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, d.PlanID, int(d.DiscountType), d.DiscountValue, d.Length).Scan(&d.ID)
		if err != nil {
			return fmt.Errorf("failed to create advance discount: %w", err)
		}
	}

	for i := range p.UseCharges {
		u := &p.UseCharges[i]
		u.PlanID = p.ID
		err = tx.QueryRow(`
			INSERT INTO use_charges (plan_id, name, unit_amount)
			VALUES ($1, $2, $3)
			RETURNING id
		`, u.PlanID, u.Name, u.UnitAmount).Scan(&u.ID)
		if err != nil {
			return fmt.Errorf("failed to create use charge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID, including tiers and use charges
func (s *PostgresService) GetPlan(id int64) (*Plan, error) {
	query := `
		SELECT id, provider_org_id, name, description, period_amount, period_length,
		       period_type, unit, setup_amount, renewal_type, created_at, updated_at
		FROM plans
		WHERE id = $1
	`
	p := &Plan{}
	var periodType, renewalType int
	err := s.db.QueryRow(query, id).Scan(
		&p.ID, &p.ProviderOrgID, &p.Name, &p.Description, &p.PeriodAmount,
		&p.PeriodLength, &periodType, &p.Unit, &p.SetupAmount, &renewalType,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	p.PeriodType = PeriodType(periodType)
	p.RenewalType = RenewalType(renewalType)

	if err := s.loadTiers(p); err != nil {
		return nil, err
	}
	if err := s.loadUseCharges(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPlans lists plans owned by a provider organization
func (s *PostgresService) ListPlans(providerOrgID int64) ([]*Plan, error) {
	query := `
		SELECT id, provider_org_id, name, description, period_amount, period_length,
		       period_type, unit, setup_amount, renewal_type, created_at, updated_at
		FROM plans
		WHERE provider_org_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.Query(query, providerOrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		p := &Plan{}
		var periodType, renewalType int
		if err := rows.Scan(
			&p.ID, &p.ProviderOrgID, &p.Name, &p.Description, &p.PeriodAmount,
			&p.PeriodLength, &periodType, &p.Unit, &p.SetupAmount, &renewalType,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.PeriodType = PeriodType(periodType)
		p.RenewalType = RenewalType(renewalType)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}

	for _, p := range plans {
		if err := s.loadTiers(p); err != nil {
			return nil, err
		}
		if err := s.loadUseCharges(p); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// GetUseCharge retrieves a use charge by ID
func (s *PostgresService) GetUseCharge(id int64) (*UseCharge, error) {
	u := &UseCharge{}
	err := s.db.QueryRow(`
		SELECT id, plan_id, name, unit_amount FROM use_charges WHERE id = $1
	`, id).Scan(&u.ID, &u.PlanID, &u.Name, &u.UnitAmount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("use charge not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get use charge: %w", err)
	}
	return u, nil
}

func (s *PostgresService) loadTiers(p *Plan) error {
	rows, err := s.db.Query(`
		SELECT id, plan_id, discount_type, discount_value, length
		FROM advance_discounts
		WHERE plan_id = $1
		ORDER BY length
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load advance discounts: %w", err)
	}
	defer rows.Close()

	p.AdvanceDiscounts = nil
	for rows.Next() {
		var d AdvanceDiscount
		var discountType int
		if err := rows.Scan(&d.ID, &d.PlanID, &discountType, &d.DiscountValue, &d.Length); err != nil {
			return fmt.Errorf("failed to scan advance discount: %w", err)
		}
		d.DiscountType = DiscountType(discountType)
		p.AdvanceDiscounts = append(p.AdvanceDiscounts, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate advance discounts: %w", err)
	}

	// The discount engine relies on ascending tier length.
	sort.Slice(p.AdvanceDiscounts, func(i, j int) bool {
		return p.AdvanceDiscounts[i].Length < p.AdvanceDiscounts[j].Length
	})
	return nil
}

func (s *PostgresService) loadUseCharges(p *Plan) error {
	rows, err := s.db.Query(`
		SELECT id, plan_id, name, unit_amount FROM use_charges WHERE plan_id = $1 ORDER BY id
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load use charges: %w", err)
	}
	defer rows.Close()

	p.UseCharges = nil
	for rows.Next() {
		var u UseCharge
		if err := rows.Scan(&u.ID, &u.PlanID, &u.Name, &u.UnitAmount); err != nil {
			return fmt.Errorf("failed to scan use charge: %w", err)
		}
		p.UseCharges = append(p.UseCharges, u)
	}
	return rows.Err()
}
