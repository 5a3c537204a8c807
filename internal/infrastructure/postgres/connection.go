package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
)

func NewConnection(cfg *config.Database, logger *logger.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL database")

	return pool, nil
}

func RunMigrations(pool *pgxpool.Pool, logger *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS scout_runs (
			id UUID PRIMARY KEY,
			era_id BIGINT NOT NULL,
			validators INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scout_runs_created_at ON scout_runs(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scout_runs_era_id ON scout_runs(era_id)`,
		// json rather than jsonb keeps the record's key order
		`CREATE TABLE IF NOT EXISTS validator_snapshots (
			run_id UUID NOT NULL REFERENCES scout_runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			public_key TEXT NOT NULL,
			fields JSON NOT NULL,
			delegation_candidate BOOLEAN NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_validator_snapshots_public_key ON validator_snapshots(public_key)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Info("Successfully ran database migrations")
	return nil
}
