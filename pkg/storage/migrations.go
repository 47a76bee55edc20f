// Package storage holds the database schema and the migration runner.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full schema, in order. The UNIQUE constraint on
// billing_periods(client_id, year, month) is what makes period generation
// idempotent under concurrency, and the CHECK keeps amount_paid inside
// [0, amount_due] even against buggy writers.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create clients table",
			SQL: `
				CREATE TABLE IF NOT EXISTS clients (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					type VARCHAR(32) NOT NULL DEFAULT 'normal',
					monthly_fee_cents BIGINT NOT NULL DEFAULT 0,
					billing_day INT NOT NULL DEFAULT 0,
					install_date DATE,
					first_cut_date DATE,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (billing_day >= 0 AND billing_day <= 28)
				);

				CREATE INDEX idx_clients_type_active ON clients(type, active);
				CREATE INDEX idx_clients_name ON clients(name);
			`,
		},
		{
			Version:     2,
			Description: "Create billing_periods table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_periods (
					id BIGSERIAL PRIMARY KEY,
					client_id BIGINT NOT NULL REFERENCES clients(id),
					year INT NOT NULL,
					month INT NOT NULL CHECK (month BETWEEN 1 AND 12),
					due_date DATE NOT NULL,
					amount_due_cents BIGINT NOT NULL,
					amount_paid_cents BIGINT NOT NULL DEFAULT 0,
					state VARCHAR(16) NOT NULL DEFAULT 'pendiente'
						CHECK (state IN ('pendiente', 'suspendido', 'pagado')),
					paid_at TIMESTAMPTZ,
					suspended_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (client_id, year, month),
					CHECK (amount_paid_cents >= 0 AND amount_paid_cents <= amount_due_cents)
				);

				CREATE INDEX idx_billing_periods_client_due ON billing_periods(client_id, due_date);
				CREATE INDEX idx_billing_periods_state_due ON billing_periods(state, due_date);
			`,
		},
		{
			Version:     3,
			Description: "Create api_tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(32) NOT NULL,
					name VARCHAR(255) NOT NULL,
					role VARCHAR(32) NOT NULL CHECK (role IN ('admin', 'trabajador', 'cliente')),
					client_id BIGINT REFERENCES clients(id),
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_api_tokens_hash ON api_tokens(token_hash);
				CREATE INDEX idx_api_tokens_client_id ON api_tokens(client_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations inside transactions,
// tracking applied versions in schema_migrations.
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
		return fmt.Errorf("failed to iterate migrations: %w", err)
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
