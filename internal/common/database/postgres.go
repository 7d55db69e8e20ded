// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"assessment-sync/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Migrate creates the assessment tables if they do not exist.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS assessment_applications (
		id               UUID PRIMARY KEY,
		owner_id         TEXT NOT NULL UNIQUE,
		status           TEXT NOT NULL,
		institution_data JSONB NOT NULL DEFAULT '{}',
		pillar_data      JSONB NOT NULL DEFAULT '{}',
		scores           JSONB,
		current_step     INT NOT NULL DEFAULT 0,
		submitted_at     TIMESTAMPTZ,
		last_saved       TIMESTAMPTZ,
		last_modified    TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assessment_indicator_responses (
		application_id    UUID NOT NULL REFERENCES assessment_applications(id) ON DELETE CASCADE,
		pillar_id         TEXT NOT NULL,
		indicator_id      TEXT NOT NULL,
		value             JSONB,
		normalized_score  DOUBLE PRECISION NOT NULL,
		evidence_required BOOLEAN NOT NULL,
		evidence_provided BOOLEAN NOT NULL,
		complete          BOOLEAN NOT NULL,
		PRIMARY KEY (application_id, indicator_id)
	)`,
	`CREATE TABLE IF NOT EXISTS assessment_audit_log (
		id             UUID PRIMARY KEY,
		application_id UUID NOT NULL,
		actor          TEXT NOT NULL,
		action         TEXT NOT NULL,
		detail         JSONB,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
}
