// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
PostgreSQL implementation of the library's data access.

It leans on Postgres features to keep the hot list path to a single
round-trip:

  - Window Functions: COUNT(*) OVER() returns the total row count without a
    second query.
  - Aggregated JOINs: chapter counts and progress rows ride along with the
    book rows, so the list screen never issues per-book follow-ups.
  - FK Cascades: deleting a book row removes every owned row in one statement.

Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
[apperr.AppError] values to avoid leaking implementation details.
*/
package book

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

// PostgresBookRepository implements the [BookRepository] interface using pgx.
type PostgresBookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository creates a new PostgreSQL implementation of BookRepository.
func NewBookRepository(pool *pgxpool.Pool) *PostgresBookRepository {
	return &PostgresBookRepository{pool: pool}
}

const bookColumns = `id, owner_user_id, title, author, genre, language, file_format, file_path,
	file_size, cover_path, metadata, total_chapters, total_pages, estimated_read_minutes,
	is_parsed, parsing_progress, parsing_error, created_at, updated_at, last_accessed_at`

// scanBook reads one book row in column order, decoding the metadata JSONB.
func scanBook(row pgx.Row) (*Book, error) {
	book := &Book{}
	var metadata []byte

	err := row.Scan(
		&book.ID,
		&book.OwnerUserID,
		&book.Title,
		&book.Author,
		&book.Genre,
		&book.Language,
		&book.FileFormat,
		&book.FilePath,
		&book.FileSize,
		&book.CoverPath,
		&metadata,
		&book.TotalChapters,
		&book.TotalPages,
		&book.EstimatedReadMinutes,
		&book.IsParsed,
		&book.ParsingProgress,
		&book.ParsingError,
		&book.CreatedAt,
		&book.UpdatedAt,
		&book.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &book.Metadata); err != nil {
			return nil, fmt.Errorf("postgres_book_repo_metadata_decode_failed: %w", err)
		}
	}

	return book, nil
}

// Create persists a new book row.
func (repository *PostgresBookRepository) Create(ctx context.Context, book *Book) error {
	const query = `
		INSERT INTO books (
			id, owner_user_id, title, author, genre, language, file_format, file_path,
			file_size, cover_path, metadata, total_chapters, total_pages, estimated_read_minutes,
			is_parsed, parsing_progress, parsing_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	now := time.Now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now

	metadata, err := json.Marshal(book.Metadata)
	if err != nil {
		return fmt.Errorf("postgres_book_repo_metadata_encode_failed: %w", err)
	}

	_, err = repository.pool.Exec(ctx, query,
		book.ID,
		book.OwnerUserID,
		book.Title,
		book.Author,
		book.Genre,
		book.Language,
		book.FileFormat,
		book.FilePath,
		book.FileSize,
		book.CoverPath,
		metadata,
		book.TotalChapters,
		book.TotalPages,
		book.EstimatedReadMinutes,
		book.IsParsed,
		book.ParsingProgress,
		book.ParsingError,
		book.CreatedAt,
		book.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_book_repo_create_failed: %w", err)
	}

	return nil
}

// FindByID retrieves one book owned by ownerID.
func (repository *PostgresBookRepository) FindByID(ctx context.Context, ownerID, bookID string) (*Book, error) {
	const query = `
		SELECT ` + bookColumns + `
		FROM books
		WHERE id = $1 AND owner_user_id = $2`

	book, err := scanBook(repository.pool.QueryRow(ctx, query, bookID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Book").WithCode("book_not_found")
		}
		return nil, fmt.Errorf("postgres_book_repo_find_failed: %w", err)
	}

	return book, nil
}

/*
List returns one page of the owner's library together with the total count.

The query joins the chapter counts and the owner's progress row onto the book
rows and rides the total count along via a window function, so the list
screen costs exactly one round-trip regardless of page size.
*/
func (repository *PostgresBookRepository) List(ctx context.Context, ownerID string, options ListOptions) ([]Summary, int, error) {

	// Sort whitelist enforcement (the clause is interpolated into SQL)
	orderClause, ok := OrderClause(options.Sort)
	if !ok {
		return nil, 0, apperr.ValidationError("Unknown sort key").WithCode("invalid_field")
	}

	query := fmt.Sprintf(`
		SELECT
			b.id, b.owner_user_id, b.title, b.author, b.genre, b.language, b.file_format,
			b.file_path, b.file_size, b.cover_path, b.metadata, b.total_chapters,
			b.total_pages, b.estimated_read_minutes, b.is_parsed, b.parsing_progress,
			b.parsing_error, b.created_at, b.updated_at, b.last_accessed_at,
			COUNT(*) OVER() AS total_count,
			COALESCE(c.chapter_count, 0) AS chapter_count,
			p.reading_percent,
			p.last_read_at
		FROM books b
		LEFT JOIN (
			SELECT book_id, COUNT(*) AS chapter_count
			FROM chapters
			GROUP BY book_id
		) c ON c.book_id = b.id
		LEFT JOIN reading_progress p ON p.book_id = b.id AND p.user_id = b.owner_user_id
		WHERE b.owner_user_id = $1
		ORDER BY %s
		LIMIT $2 OFFSET $3`, orderClause)

	rows, err := repository.pool.Query(ctx, query, ownerID, options.Limit, options.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres_book_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var (
		summaries []Summary
		total     int
	)

	for rows.Next() {
		var (
			summary  Summary
			metadata []byte
		)

		err := rows.Scan(
			&summary.ID,
			&summary.OwnerUserID,
			&summary.Title,
			&summary.Author,
			&summary.Genre,
			&summary.Language,
			&summary.FileFormat,
			&summary.FilePath,
			&summary.FileSize,
			&summary.CoverPath,
			&metadata,
			&summary.TotalChapters,
			&summary.TotalPages,
			&summary.EstimatedReadMinutes,
			&summary.IsParsed,
			&summary.ParsingProgress,
			&summary.ParsingError,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&summary.LastAccessedAt,
			&total,
			&summary.ChapterCount,
			&summary.ReadingPercent,
			&summary.LastReadAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres_book_repo_list_scan_failed: %w", err)
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &summary.Metadata); err != nil {
				return nil, 0, fmt.Errorf("postgres_book_repo_metadata_decode_failed: %w", err)
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres_book_repo_list_rows_failed: %w", err)
	}

	return summaries, total, nil
}

/*
Delete removes a book and every row it owns, returning the orphaned file
paths.

The FK graph carries the cascade (chapters, progress, sessions, descriptions,
generated images); file paths are collected inside the same transaction so the
caller can remove the on-disk artifacts after the commit. Rows are the source
of truth — a failed file removal later leaves only harmless orphans.
*/
func (repository *PostgresBookRepository) Delete(ctx context.Context, ownerID, bookID string) ([]string, error) {
	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres_book_repo_delete_begin_failed: %w", err)
	}
	defer transaction.Rollback(ctx)

	// ── 1. Ownership check and artifact collection ──
	var filePath, coverPath string
	err = transaction.QueryRow(ctx,
		`SELECT file_path, cover_path FROM books WHERE id = $1 AND owner_user_id = $2`,
		bookID, ownerID,
	).Scan(&filePath, &coverPath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Book").WithCode("book_not_found")
		}
		return nil, fmt.Errorf("postgres_book_repo_delete_lookup_failed: %w", err)
	}

	paths := []string{filePath}
	if coverPath != "" {
		paths = append(paths, coverPath)
	}

	// ── 2. Generated image artifacts ──
	rows, err := transaction.Query(ctx,
		`SELECT local_path FROM generated_images WHERE book_id = $1 AND local_path IS NOT NULL`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres_book_repo_delete_images_failed: %w", err)
	}
	for rows.Next() {
		var imagePath string
		if err := rows.Scan(&imagePath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres_book_repo_delete_scan_failed: %w", err)
		}
		paths = append(paths, imagePath)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_book_repo_delete_rows_failed: %w", err)
	}

	// ── 3. Cascading row deletion ──
	if _, err := transaction.Exec(ctx,
		`DELETE FROM books WHERE id = $1 AND owner_user_id = $2`, bookID, ownerID,
	); err != nil {
		return nil, fmt.Errorf("postgres_book_repo_delete_failed: %w", err)
	}

	if err := transaction.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres_book_repo_delete_commit_failed: %w", err)
	}

	return paths, nil
}

// SetParsingState mirrors the coordinator's pipeline view onto the book row.
func (repository *PostgresBookRepository) SetParsingState(ctx context.Context, bookID string, progress int, isParsed bool, parsingError *string) error {
	const query = `
		UPDATE books
		SET parsing_progress = $2, is_parsed = $3, parsing_error = $4, updated_at = $5
		WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, bookID, progress, isParsed, parsingError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres_book_repo_set_parsing_state_failed: %w", err)
	}

	return nil
}

// TouchLastAccessed bumps last_accessed_at to now.
func (repository *PostgresBookRepository) TouchLastAccessed(ctx context.Context, bookID string) error {
	const query = `UPDATE books SET last_accessed_at = $2 WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, bookID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres_book_repo_touch_failed: %w", err)
	}

	return nil
}

// ── Chapter Repository ───────────────────────────────────────────────────────

// PostgresChapterRepository implements the [ChapterRepository] interface.
type PostgresChapterRepository struct {
	pool *pgxpool.Pool
}

// NewChapterRepository creates a new PostgreSQL implementation of ChapterRepository.
func NewChapterRepository(pool *pgxpool.Pool) *PostgresChapterRepository {
	return &PostgresChapterRepository{pool: pool}
}

const chapterColumns = `id, book_id, chapter_number, title, content, html_content, word_count,
	is_description_parsed, descriptions_found, created_at`

// scanChapter reads one chapter row in column order.
func scanChapter(row pgx.Row) (*Chapter, error) {
	chapter := &Chapter{}
	err := row.Scan(
		&chapter.ID,
		&chapter.BookID,
		&chapter.ChapterNumber,
		&chapter.Title,
		&chapter.Content,
		&chapter.HTMLContent,
		&chapter.WordCount,
		&chapter.IsDescriptionParsed,
		&chapter.DescriptionsFound,
		&chapter.CreatedAt,
	)
	return chapter, err
}

// CreateAll inserts the full chapter set of a freshly parsed book in one
// transaction, so a partially inserted book never becomes visible.
func (repository *PostgresChapterRepository) CreateAll(ctx context.Context, chapters []Chapter) error {
	if len(chapters) == 0 {
		return nil
	}

	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_chapter_repo_create_begin_failed: %w", err)
	}
	defer transaction.Rollback(ctx)

	const query = `
		INSERT INTO chapters (
			id, book_id, chapter_number, title, content, html_content, word_count,
			is_description_parsed, descriptions_found, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	now := time.Now().UTC()
	for index := range chapters {
		chapter := &chapters[index]
		if chapter.CreatedAt.IsZero() {
			chapter.CreatedAt = now
		}

		_, err := transaction.Exec(ctx, query,
			chapter.ID,
			chapter.BookID,
			chapter.ChapterNumber,
			chapter.Title,
			chapter.Content,
			chapter.HTMLContent,
			chapter.WordCount,
			chapter.IsDescriptionParsed,
			chapter.DescriptionsFound,
			chapter.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres_chapter_repo_create_failed: %w", err)
		}
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_chapter_repo_create_commit_failed: %w", err)
	}

	return nil
}

// FindByNumber retrieves one chapter by its 1-indexed number.
func (repository *PostgresChapterRepository) FindByNumber(ctx context.Context, bookID string, number int) (*Chapter, error) {
	const query = `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE book_id = $1 AND chapter_number = $2`

	chapter, err := scanChapter(repository.pool.QueryRow(ctx, query, bookID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Chapter").WithCode("chapter_not_found")
		}
		return nil, fmt.Errorf("postgres_chapter_repo_find_failed: %w", err)
	}

	return chapter, nil
}

// ListByBook returns all chapters of a book ordered by number, contents
// included.
func (repository *PostgresChapterRepository) ListByBook(ctx context.Context, bookID string) ([]Chapter, error) {
	const query = `
		SELECT ` + chapterColumns + `
		FROM chapters
		WHERE book_id = $1
		ORDER BY chapter_number ASC`

	rows, err := repository.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("postgres_chapter_repo_list_failed: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_chapter_repo_list_scan_failed: %w", err)
		}
		chapters = append(chapters, *chapter)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_chapter_repo_list_rows_failed: %w", err)
	}

	return chapters, nil
}

// ListTOC returns the lightweight chapter listing ordered by number.
func (repository *PostgresChapterRepository) ListTOC(ctx context.Context, bookID string) ([]TOCEntry, error) {
	const query = `
		SELECT chapter_number, title, word_count, is_description_parsed
		FROM chapters
		WHERE book_id = $1
		ORDER BY chapter_number ASC`

	rows, err := repository.pool.Query(ctx, query, bookID)
	if err != nil {
		return nil, fmt.Errorf("postgres_chapter_repo_toc_failed: %w", err)
	}
	defer rows.Close()

	var entries []TOCEntry
	for rows.Next() {
		var entry TOCEntry
		if err := rows.Scan(&entry.ChapterNumber, &entry.Title, &entry.WordCount, &entry.IsDescriptionParsed); err != nil {
			return nil, fmt.Errorf("postgres_chapter_repo_toc_scan_failed: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres_chapter_repo_toc_rows_failed: %w", err)
	}

	return entries, nil
}

// CountByBook returns the number of chapters of a book.
func (repository *PostgresChapterRepository) CountByBook(ctx context.Context, bookID string) (int, error) {
	const query = `SELECT COUNT(*) FROM chapters WHERE book_id = $1`

	var count int
	if err := repository.pool.QueryRow(ctx, query, bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_chapter_repo_count_failed: %w", err)
	}

	return count, nil
}

// MarkDescriptionParsed flags a chapter as processed by the description
// pipeline.
func (repository *PostgresChapterRepository) MarkDescriptionParsed(ctx context.Context, chapterID string, found int) error {
	const query = `
		UPDATE chapters
		SET is_description_parsed = TRUE, descriptions_found = $2
		WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, chapterID, found)
	if err != nil {
		return fmt.Errorf("postgres_chapter_repo_mark_parsed_failed: %w", err)
	}

	return nil
}
