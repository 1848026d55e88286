// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package canary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fablio/fablio/internal/platform/apperr"
)

// PostgresRepository implements [Repository] on the canary_stage_history
// table. The BIGSERIAL primary key provides the monotonic ID sequence.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL implementation of the canary Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Append persists a new stage record, filling in ID and timestamp.
func (repository *PostgresRepository) Append(ctx context.Context, record *StageRecord) error {
	const query = `
		INSERT INTO canary_stage_history (stage, rollout_percent, updated_at, updated_by, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	record.UpdatedAt = time.Now().UTC()

	err := repository.pool.QueryRow(ctx, query,
		record.Stage,
		record.RolloutPercent,
		record.UpdatedAt,
		record.UpdatedBy,
		record.Notes,
	).Scan(&record.ID)

	if err != nil {
		return fmt.Errorf("postgres_canary_repo_append_failed: %w", err)
	}

	return nil
}

const stageColumns = `id, stage, rollout_percent, updated_at, updated_by, notes`

func scanStageRecord(row pgx.Row) (*StageRecord, error) {
	record := &StageRecord{}
	err := row.Scan(
		&record.ID,
		&record.Stage,
		&record.RolloutPercent,
		&record.UpdatedAt,
		&record.UpdatedBy,
		&record.Notes,
	)
	return record, err
}

// Latest returns the most recent stage record.
func (repository *PostgresRepository) Latest(ctx context.Context) (*StageRecord, error) {
	const query = `
		SELECT ` + stageColumns + `
		FROM canary_stage_history
		ORDER BY id DESC
		LIMIT 1`

	record, err := scanStageRecord(repository.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Canary stage history")
		}
		return nil, fmt.Errorf("postgres_canary_repo_latest_failed: %w", err)
	}

	return record, nil
}

// History returns records most-recent-first, bounded by limit.
func (repository *PostgresRepository) History(ctx context.Context, limit int) ([]StageRecord, error) {
	query := `SELECT ` + stageColumns + ` FROM canary_stage_history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := repository.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_canary_repo_history_failed: %w", err)
	}
	defer rows.Close()

	var result []StageRecord
	for rows.Next() {
		record, err := scanStageRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_canary_repo_scan_failed: %w", err)
		}
		result = append(result, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_canary_repo_rows_failed: %w", err)
	}

	return result, nil
}
