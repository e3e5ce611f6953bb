// Package postgresql provides the PostgreSQL saga state store used in
// production deployments.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/tandemhq/tandem/pkg/persistence"
	"github.com/tandemhq/tandem/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db       *sql.DB
	logger   *slog.Logger
	sagaRepo *SagaRepository
}

// NewPersistence connects to PostgreSQL and runs schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       database,
		logger:   logger,
		sagaRepo: NewSagaRepository(database, logger),
	}, nil
}

func (p *Persistence) Sagas() persistence.SagaRepository {
	return p.sagaRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS sagas (
				id UUID PRIMARY KEY,
				definition_name VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_step_index INTEGER NOT NULL DEFAULT 0,
				step_outcomes JSONB NOT NULL DEFAULT '[]',
				context JSONB NOT NULL DEFAULT '{}',
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				partial_rollback BOOLEAN NOT NULL DEFAULT FALSE,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_sagas_status ON sagas(status);
			CREATE INDEX IF NOT EXISTS idx_sagas_updated_at ON sagas(updated_at);
			CREATE INDEX IF NOT EXISTS idx_sagas_definition_name ON sagas(definition_name);
		`,
	}
}
