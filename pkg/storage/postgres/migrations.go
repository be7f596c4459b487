package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all billing schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations and users tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					billing_email VARCHAR(255) NOT NULL DEFAULT '',
					payment_token TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_org_id ON users(org_id);
				CREATE INDEX idx_users_email ON users(email);
				CREATE INDEX idx_organizations_billing_email ON organizations(billing_email);
			`,
		},
		{
			Version:     2,
			Description: "Create plan catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id BIGSERIAL PRIMARY KEY,
					provider_org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					period_amount BIGINT NOT NULL,
					period_length INT NOT NULL,
					period_type INT NOT NULL,
					unit VARCHAR(16) NOT NULL,
					setup_amount BIGINT NOT NULL DEFAULT 0,
					renewal_type INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(provider_org_id, name)
				);

				CREATE TABLE IF NOT EXISTS advance_discounts (
					id BIGSERIAL PRIMARY KEY,
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					discount_type INT NOT NULL,
					discount_value BIGINT NOT NULL,
					length INT NOT NULL,
					UNIQUE(plan_id, length)
				);

				CREATE TABLE IF NOT EXISTS use_charges (
					id BIGSERIAL PRIMARY KEY,
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					unit_amount BIGINT NOT NULL
				);

				CREATE INDEX idx_plans_provider_org_id ON plans(provider_org_id);
				CREATE INDEX idx_advance_discounts_plan_id ON advance_discounts(plan_id);
				CREATE INDEX idx_use_charges_plan_id ON use_charges(plan_id);
			`,
		},
		{
			Version:     3,
			Description: "Create coupons table",
			SQL: `
				CREATE TABLE IF NOT EXISTS coupons (
					id BIGSERIAL PRIMARY KEY,
					provider_org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					code VARCHAR(255) NOT NULL,
					discount_type INT NOT NULL,
					discount_value BIGINT NOT NULL,
					plan_id BIGINT REFERENCES plans(id) ON DELETE CASCADE,
					ends_at TIMESTAMPTZ,
					nb_attempts INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(provider_org_id, code)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create cart_items and subscriptions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS cart_items (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					option_index INT NOT NULL DEFAULT 0,
					use_charge_id BIGINT REFERENCES use_charges(id) ON DELETE CASCADE,
					quantity INT NOT NULL DEFAULT 1,
					sync_on VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					coupon_id BIGINT REFERENCES coupons(id) ON DELETE SET NULL,
					recorded BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					ends_at TIMESTAMPTZ NOT NULL,
					auto_renew BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX idx_cart_items_user_pending ON cart_items(user_id) WHERE recorded = false;
				CREATE INDEX idx_subscriptions_org_plan_ends ON subscriptions(org_id, plan_id, ends_at);
				CREATE INDEX idx_subscriptions_renewable ON subscriptions(ends_at) WHERE auto_renew = true;
			`,
		},
		{
			Version:     5,
			Description: "Create ledger transactions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS transactions (
					id BIGSERIAL PRIMARY KEY,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					event_id VARCHAR(64) NOT NULL,
					descr JSONB NOT NULL,
					orig_amount BIGINT NOT NULL CHECK (orig_amount > 0),
					orig_unit VARCHAR(16) NOT NULL,
					orig_account INT NOT NULL,
					orig_org_id BIGINT NOT NULL REFERENCES organizations(id),
					dest_amount BIGINT NOT NULL CHECK (dest_amount > 0),
					dest_unit VARCHAR(16) NOT NULL,
					dest_account INT NOT NULL,
					dest_org_id BIGINT NOT NULL REFERENCES organizations(id),
					CHECK (orig_amount = dest_amount),
					CHECK (orig_unit = dest_unit)
				);

				CREATE INDEX idx_transactions_orig ON transactions(orig_account, orig_org_id, created_at);
				CREATE INDEX idx_transactions_dest ON transactions(dest_account, dest_org_id, created_at);
				CREATE INDEX idx_transactions_event_id ON transactions(event_id);
			`,
		},
		{
			Version:     6,
			Description: "Create charges and charge_lines tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS charges (
					id BIGSERIAL PRIMARY KEY,
					customer_org_id BIGINT NOT NULL REFERENCES organizations(id),
					amount BIGINT NOT NULL CHECK (amount >= 0),
					unit VARCHAR(16) NOT NULL,
					state VARCHAR(16) NOT NULL,
					processor_ref TEXT NOT NULL DEFAULT '',
					idempotency_key VARCHAR(64) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS charge_lines (
					id BIGSERIAL PRIMARY KEY,
					charge_id BIGINT NOT NULL REFERENCES charges(id) ON DELETE CASCADE,
					event_id VARCHAR(64) NOT NULL,
					descr TEXT NOT NULL DEFAULT '',
					amount BIGINT NOT NULL CHECK (amount >= 0),
					unit VARCHAR(16) NOT NULL,
					provider_org_id BIGINT NOT NULL REFERENCES organizations(id),
					balance_due BOOLEAN NOT NULL DEFAULT FALSE,
					refunded_amount BIGINT NOT NULL DEFAULT 0
				);

				CREATE INDEX idx_charges_state ON charges(state, created_at);
				CREATE INDEX idx_charges_customer ON charges(customer_org_id);
				CREATE INDEX idx_charge_lines_charge_id ON charge_lines(charge_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
