// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package book

import "context"

// # Repository Contracts

// BookRepository defines owner-scoped data access for books.
//
// Every read that accepts an ownerID filters by it; a cross-owner lookup
// behaves exactly like a missing row.
type BookRepository interface {
	// Create persists a new book row.
	Create(ctx context.Context, book *Book) error

	// FindByID retrieves one book owned by ownerID.
	//
	// Returns [apperr.NotFound] with code book_not_found when the book does
	// not exist or belongs to someone else.
	FindByID(ctx context.Context, ownerID, bookID string) (*Book, error)

	// List returns one page of the owner's library with eager aggregates
	// (chapter count, reading progress) and the total row count. A single
	// query; no per-row follow-ups.
	List(ctx context.Context, ownerID string, options ListOptions) ([]Summary, int, error)

	// Delete removes the book and, via FK cascade, every owned row. It
	// returns the relative file paths orphaned by the deletion (book file,
	// cover, generated images) so the caller can remove them after commit.
	Delete(ctx context.Context, ownerID, bookID string) ([]string, error)

	// SetParsingState mirrors the coordinator's view of the description
	// pipeline onto the book row so status survives restarts.
	SetParsingState(ctx context.Context, bookID string, progress int, isParsed bool, parsingError *string) error

	// TouchLastAccessed bumps last_accessed_at to now.
	TouchLastAccessed(ctx context.Context, bookID string) error
}

// ChapterRepository defines data access for the chapters of a book.
// Chapters are reachable only through their owning book, so methods here
// assume ownership was already established.
type ChapterRepository interface {
	// CreateAll inserts the full chapter set of a freshly parsed book in one
	// transaction.
	CreateAll(ctx context.Context, chapters []Chapter) error

	// FindByNumber retrieves one chapter by its 1-indexed number.
	//
	// Returns [apperr.NotFound] with code chapter_not_found when absent.
	FindByNumber(ctx context.Context, bookID string, number int) (*Chapter, error)

	// ListByBook returns all chapters of a book ordered by chapter number,
	// contents included. Used by the description pipeline run.
	ListByBook(ctx context.Context, bookID string) ([]Chapter, error)

	// ListTOC returns the lightweight chapter listing ordered by number.
	ListTOC(ctx context.Context, bookID string) ([]TOCEntry, error)

	// CountByBook returns the number of chapters of a book.
	CountByBook(ctx context.Context, bookID string) (int, error)

	// MarkDescriptionParsed flags a chapter as processed by the description
	// pipeline and records how many descriptions were found.
	MarkDescriptionParsed(ctx context.Context, chapterID string, found int) error
}
