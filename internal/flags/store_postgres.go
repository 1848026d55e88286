// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package flags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fablio/fablio/internal/platform/apperr"
)

// PostgresRepository implements [Repository] using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL implementation of the flag Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const flagColumns = `id, name, enabled, category, description, default_value, created_at, updated_at`

func scanFlag(row pgx.Row) (*Flag, error) {
	flag := &Flag{}
	err := row.Scan(
		&flag.ID,
		&flag.Name,
		&flag.Enabled,
		&flag.Category,
		&flag.Description,
		&flag.DefaultValue,
		&flag.CreatedAt,
		&flag.UpdatedAt,
	)
	return flag, err
}

// FindByName retrieves a flag by its unique name.
func (repository *PostgresRepository) FindByName(ctx context.Context, name string) (*Flag, error) {
	const query = `SELECT ` + flagColumns + ` FROM feature_flags WHERE name = $1`

	flag, err := scanFlag(repository.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Feature flag").WithCode("flag_not_found")
		}
		return nil, fmt.Errorf("postgres_flag_repo_find_failed: %w", err)
	}

	return flag, nil
}

// List returns every flag ordered by name.
func (repository *PostgresRepository) List(ctx context.Context) ([]Flag, error) {
	const query = `SELECT ` + flagColumns + ` FROM feature_flags ORDER BY name ASC`

	rows, err := repository.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_flag_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var result []Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_flag_repo_scan_failed: %w", err)
		}
		result = append(result, *flag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_flag_repo_rows_failed: %w", err)
	}

	return result, nil
}

// Upsert inserts the flag or updates its enabled state on name conflict.
func (repository *PostgresRepository) Upsert(ctx context.Context, flag *Flag) error {
	const query = `
		INSERT INTO feature_flags (
			id, name, enabled, category, description, default_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	if flag.CreatedAt.IsZero() {
		flag.CreatedAt = now
	}
	flag.UpdatedAt = now

	_, err := repository.pool.Exec(ctx, query,
		flag.ID,
		flag.Name,
		flag.Enabled,
		flag.Category,
		flag.Description,
		flag.DefaultValue,
		flag.CreatedAt,
		flag.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_flag_repo_upsert_failed: %w", err)
	}

	return nil
}

// InsertIfAbsent inserts the flag only when its name is not yet present.
func (repository *PostgresRepository) InsertIfAbsent(ctx context.Context, flag *Flag) (bool, error) {
	const query = `
		INSERT INTO feature_flags (
			id, name, enabled, category, description, default_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO NOTHING`

	now := time.Now().UTC()
	flag.CreatedAt = now
	flag.UpdatedAt = now

	tag, err := repository.pool.Exec(ctx, query,
		flag.ID,
		flag.Name,
		flag.Enabled,
		flag.Category,
		flag.Description,
		flag.DefaultValue,
		flag.CreatedAt,
		flag.UpdatedAt,
	)

	if err != nil {
		return false, fmt.Errorf("postgres_flag_repo_insert_if_absent_failed: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
