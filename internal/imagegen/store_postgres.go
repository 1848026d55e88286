// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package imagegen

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

// NewRepository creates a new PostgreSQL implementation of Repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const imageColumns = `id, description_id, book_id, user_id, prompt, local_path,
	content_type, width, height, generation_time_seconds, created_at`

// Create persists a new image row.
func (repository *PostgresRepository) Create(ctx context.Context, image *GeneratedImage) error {
	const query = `
		INSERT INTO generated_images (` + imageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	_, err := repository.pool.Exec(ctx, query,
		image.ID,
		image.DescriptionID,
		image.BookID,
		image.UserID,
		image.Prompt,
		image.LocalPath,
		image.ContentType,
		image.Width,
		image.Height,
		image.GenerationTimeSeconds,
		image.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_image_repo_create_failed: %w", err)
	}

	return nil
}

// FindByDescription retrieves the image generated for one description.
func (repository *PostgresRepository) FindByDescription(ctx context.Context, descriptionID string) (*GeneratedImage, error) {
	const query = `
		SELECT ` + imageColumns + `
		FROM generated_images
		WHERE description_id = $1`

	image := &GeneratedImage{}
	err := repository.pool.QueryRow(ctx, query, descriptionID).Scan(
		&image.ID,
		&image.DescriptionID,
		&image.BookID,
		&image.UserID,
		&image.Prompt,
		&image.LocalPath,
		&image.ContentType,
		&image.Width,
		&image.Height,
		&image.GenerationTimeSeconds,
		&image.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Generated image").WithCode("image_not_found")
		}
		return nil, fmt.Errorf("postgres_image_repo_find_failed: %w", err)
	}

	return image, nil
}

// ListByBook returns every image of a book, newest first.
func (repository *PostgresRepository) ListByBook(ctx context.Context, bookID string) ([]GeneratedImage, error) {
	const query = `
		SELECT ` + imageColumns + `
		FROM generated_images
		WHERE book_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := repository.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("postgres_image_repo_list_failed: %w", err)
	}
	defer rows.Close()

	images := []GeneratedImage{}
	for rows.Next() {
		image := GeneratedImage{}
		err := rows.Scan(
			&image.ID,
			&image.DescriptionID,
			&image.BookID,
			&image.UserID,
			&image.Prompt,
			&image.LocalPath,
			&image.ContentType,
			&image.Width,
			&image.Height,
			&image.GenerationTimeSeconds,
			&image.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres_image_repo_scan_failed: %w", err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_image_repo_rows_failed: %w", err)
	}

	return images, nil
}
