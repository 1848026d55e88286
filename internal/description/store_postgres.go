// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description

import (
	"context"
	"encoding/json"
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

const descriptionColumns = `id, book_id, chapter_id, type, content, context,
	confidence_score, priority_score, position_in_chapter, word_count,
	entities_mentioned, created_at`

// CreateAll inserts the filtered extraction results of one chapter in a
// single transaction.
func (repository *PostgresRepository) CreateAll(ctx context.Context, descriptions []Description) error {
	if len(descriptions) == 0 {
		return nil
	}

	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_description_repo_begin_failed: %w", err)
	}
	defer transaction.Rollback(ctx)

	const query = `
		INSERT INTO descriptions (` + descriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	for index := range descriptions {
		row := &descriptions[index]
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}

		entities, err := json.Marshal(row.EntitiesMentioned)
		if err != nil {
			return fmt.Errorf("postgres_description_repo_marshal_failed: %w", err)
		}

		_, err = transaction.Exec(ctx, query,
			row.ID,
			row.BookID,
			row.ChapterID,
			row.Type,
			row.Content,
			row.Context,
			row.ConfidenceScore,
			row.PriorityScore,
			row.PositionInChapter,
			row.WordCount,
			entities,
			row.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres_description_repo_insert_failed: %w", err)
		}
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_description_repo_commit_failed: %w", err)
	}

	return nil
}

// FindByID retrieves one description.
func (repository *PostgresRepository) FindByID(ctx context.Context, descriptionID string) (*Description, error) {
	const query = `
		SELECT ` + descriptionColumns + `
		FROM descriptions
		WHERE id = $1`

	row := repository.pool.QueryRow(ctx, query, descriptionID)
	found, err := scanDescription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Description").WithCode("description_not_found")
		}
		return nil, fmt.Errorf("postgres_description_repo_find_failed: %w", err)
	}

	return found, nil
}

// ListByChapter returns the descriptions of one chapter ordered by their
// position in the prose.
func (repository *PostgresRepository) ListByChapter(ctx context.Context, chapterID string) ([]Description, error) {
	const query = `
		SELECT ` + descriptionColumns + `
		FROM descriptions
		WHERE chapter_id = $1
		ORDER BY position_in_chapter ASC`

	rows, err := repository.pool.Query(ctx, query, chapterID)
	if err != nil {
		return nil, fmt.Errorf("postgres_description_repo_list_failed: %w", err)
	}
	defer rows.Close()

	return collectDescriptions(rows)
}

// ListPendingImages returns the top-limit descriptions of a book without a
// generated image, ordered by priority score descending.
func (repository *PostgresRepository) ListPendingImages(ctx context.Context, bookID string, limit int) ([]Description, error) {
	// Columns are qualified because generated_images shares names with
	// descriptions in the join.
	const query = `
		SELECT d.id, d.book_id, d.chapter_id, d.type, d.content, d.context,
			d.confidence_score, d.priority_score, d.position_in_chapter,
			d.word_count, d.entities_mentioned, d.created_at
		FROM descriptions d
		LEFT JOIN generated_images g ON g.description_id = d.id
		WHERE d.book_id = $1 AND g.id IS NULL
		ORDER BY d.priority_score DESC, d.id ASC
		LIMIT $2`

	rows, err := repository.pool.Query(ctx, query, bookID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres_description_repo_pending_failed: %w", err)
	}
	defer rows.Close()

	return collectDescriptions(rows)
}

func collectDescriptions(rows pgx.Rows) ([]Description, error) {
	descriptions := []Description{}
	for rows.Next() {
		row, err := scanDescription(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_description_repo_scan_failed: %w", err)
		}
		descriptions = append(descriptions, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_description_repo_rows_failed: %w", err)
	}
	return descriptions, nil
}

func scanDescription(row pgx.Row) (*Description, error) {
	found := &Description{}
	var entities []byte

	err := row.Scan(
		&found.ID,
		&found.BookID,
		&found.ChapterID,
		&found.Type,
		&found.Content,
		&found.Context,
		&found.ConfidenceScore,
		&found.PriorityScore,
		&found.PositionInChapter,
		&found.WordCount,
		&entities,
		&found.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &found.EntitiesMentioned); err != nil {
			return nil, fmt.Errorf("entities_unmarshal_failed: %w", err)
		}
	}

	return found, nil
}
