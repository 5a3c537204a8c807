package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
)

type Repository struct {
	db     *pgxpool.Pool
	logger *logger.Logger
}

func NewRepository(db *pgxpool.Pool, logger *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// SaveSnapshot stores the run row and one row per validator in a single
// transaction.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	if snapshot.RunID == "" {
		snapshot.RunID = uuid.New().String()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Use a fresh context for rollback to ensure it always works
		tx.Rollback(context.Background())
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO scout_runs (id, era_id, validators, candidates, created_at) VALUES ($1, $2, $3, $4, $5)`,
		snapshot.RunID,
		snapshot.EraID,
		len(snapshot.Validators),
		len(snapshot.Candidates),
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	candidates := make(map[*domain.Record]bool, len(snapshot.Candidates))
	for _, c := range snapshot.Candidates {
		candidates[c] = true
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO validator_snapshots (run_id, position, public_key, fields, delegation_candidate)
		VALUES ($1, $2, $3, $4::json, $5)
	`

	for i, record := range snapshot.Validators {
		fields, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode validator %s: %w", record.PublicKey(), err)
		}
		batch.Queue(query,
			snapshot.RunID,
			i,
			record.PublicKey(),
			string(fields),
			candidates[record],
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to execute batch item %d: %w", i, err)
		}
	}

	// Close the batch result before committing the transaction
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Infow("Stored run snapshot",
		"run_id", snapshot.RunID,
		"era_id", snapshot.EraID,
		"validators", len(snapshot.Validators),
		"candidates", len(snapshot.Candidates),
	)
	return nil
}

func (r *Repository) GetLatestRun(ctx context.Context) (*domain.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id::text, era_id, validators, candidates, created_at
		FROM scout_runs
		ORDER BY created_at DESC
		LIMIT 1
	`

	var run domain.RunSummary
	err := r.db.QueryRow(ctx, query).Scan(
		&run.RunID,
		&run.EraID,
		&run.Validators,
		&run.Candidates,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoRuns
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return &run, nil
}

// FindCandidates returns the delegation candidates of a run in the order
// they were fetched.
func (r *Repository) FindCandidates(ctx context.Context, runID string) ([]*domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT fields::text
		FROM validator_snapshots
		WHERE run_id = $1 AND delegation_candidate
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]*domain.Record, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		record := domain.NewRecord()
		if err := json.Unmarshal([]byte(raw), record); err != nil {
			return nil, fmt.Errorf("failed to decode candidate: %w", err)
		}
		candidates = append(candidates, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return candidates, nil
}
