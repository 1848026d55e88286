// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

// PostgreSQL implementations of the progress repositories.
//
// The (user_id, book_id) unique constraint drives the upsert; the partial
// unique index on active sessions enforces the single-active invariant at
// the storage layer as well as in the service.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fablio/fablio/internal/platform/apperr"
)

// PostgresProgressRepository implements [ProgressRepository] using pgx.
type PostgresProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new PostgreSQL implementation of ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *PostgresProgressRepository {
	return &PostgresProgressRepository{pool: pool}
}

// Upsert inserts or replaces the (user, book) progress row.
func (repository *PostgresProgressRepository) Upsert(ctx context.Context, progress *ReadingProgress) error {
	const query = `
		INSERT INTO reading_progress (
			id, user_id, book_id, current_chapter, current_page_percent,
			location_fingerprint, scroll_offset_percent, reading_time_minutes,
			reading_percent, last_read_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, book_id) DO UPDATE SET
			current_chapter       = EXCLUDED.current_chapter,
			current_page_percent  = EXCLUDED.current_page_percent,
			location_fingerprint  = EXCLUDED.location_fingerprint,
			scroll_offset_percent = EXCLUDED.scroll_offset_percent,
			reading_time_minutes  = EXCLUDED.reading_time_minutes,
			reading_percent       = EXCLUDED.reading_percent,
			last_read_at          = EXCLUDED.last_read_at`

	if progress.LastReadAt.IsZero() {
		progress.LastReadAt = time.Now().UTC()
	}

	_, err := repository.pool.Exec(ctx, query,
		progress.ID,
		progress.UserID,
		progress.BookID,
		progress.CurrentChapter,
		progress.CurrentPagePercent,
		progress.LocationFingerprint,
		progress.ScrollOffsetPercent,
		progress.ReadingTimeMinutes,
		progress.ReadingPercent,
		progress.LastReadAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_progress_repo_upsert_failed: %w", err)
	}

	return nil
}

// Find retrieves the progress row for one (user, book) pair.
func (repository *PostgresProgressRepository) Find(ctx context.Context, userID, bookID string) (*ReadingProgress, error) {
	const query = `
		SELECT id, user_id, book_id, current_chapter, current_page_percent,
			location_fingerprint, scroll_offset_percent, reading_time_minutes,
			reading_percent, last_read_at
		FROM reading_progress
		WHERE user_id = $1 AND book_id = $2`

	progress := &ReadingProgress{}
	err := repository.pool.QueryRow(ctx, query, userID, bookID).Scan(
		&progress.ID,
		&progress.UserID,
		&progress.BookID,
		&progress.CurrentChapter,
		&progress.CurrentPagePercent,
		&progress.LocationFingerprint,
		&progress.ScrollOffsetPercent,
		&progress.ReadingTimeMinutes,
		&progress.ReadingPercent,
		&progress.LastReadAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Reading progress")
		}
		return nil, fmt.Errorf("postgres_progress_repo_find_failed: %w", err)
	}

	return progress, nil
}

// Delete removes the progress row for one (user, book) pair.
func (repository *PostgresProgressRepository) Delete(ctx context.Context, userID, bookID string) error {
	const query = `DELETE FROM reading_progress WHERE user_id = $1 AND book_id = $2`

	_, err := repository.pool.Exec(ctx, query, userID, bookID)
	if err != nil {
		return fmt.Errorf("postgres_progress_repo_delete_failed: %w", err)
	}

	return nil
}

// ── Session Repository ───────────────────────────────────────────────────────

// PostgresSessionRepository implements [SessionRepository] using pgx.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new PostgreSQL implementation of SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, book_id, started_at, ended_at, duration_minutes,
	start_position, end_position, is_active`

// Create persists a new session row.
func (repository *PostgresSessionRepository) Create(ctx context.Context, session *ReadingSession) error {
	const query = `
		INSERT INTO reading_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err := repository.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.BookID,
		session.StartedAt,
		session.EndedAt,
		session.DurationMinutes,
		session.StartPosition,
		session.EndPosition,
		session.IsActive,
	)

	if err != nil {
		return fmt.Errorf("postgres_session_repo_create_failed: %w", err)
	}

	return nil
}

// FindActive retrieves the active session for one (user, book) pair.
func (repository *PostgresSessionRepository) FindActive(ctx context.Context, userID, bookID string) (*ReadingSession, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM reading_sessions
		WHERE user_id = $1 AND book_id = $2 AND is_active = TRUE`

	session := &ReadingSession{}
	err := repository.pool.QueryRow(ctx, query, userID, bookID).Scan(
		&session.ID,
		&session.UserID,
		&session.BookID,
		&session.StartedAt,
		&session.EndedAt,
		&session.DurationMinutes,
		&session.StartPosition,
		&session.EndPosition,
		&session.IsActive,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Reading session")
		}
		return nil, fmt.Errorf("postgres_session_repo_find_active_failed: %w", err)
	}

	return session, nil
}

// CloseActive ends every active session of the pair, computing the duration
// in SQL so clock handling stays in one place.
func (repository *PostgresSessionRepository) CloseActive(ctx context.Context, userID, bookID, endPosition string) (int, error) {
	const query = `
		UPDATE reading_sessions
		SET is_active        = FALSE,
			ended_at         = NOW(),
			end_position     = $3,
			duration_minutes = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - started_at)) / 60)::int
		WHERE user_id = $1 AND book_id = $2 AND is_active = TRUE`

	tag, err := repository.pool.Exec(ctx, query, userID, bookID, endPosition)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_repo_close_failed: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
