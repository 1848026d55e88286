// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/validate"
	"github.com/fablio/fablio/pkg/pointer"
	"github.com/fablio/fablio/pkg/uuidv7"
)

// # Service Layer

// CacheLayer is the slice of the cache the progress domain needs.
type CacheLayer interface {
	GetJSON(ctx context.Context, key string, target any) bool
	SetJSON(ctx context.Context, key string, value any, class cache.Class) bool
	Delete(ctx context.Context, keys ...string)
	DeletePattern(ctx context.Context, pattern string) int
}

// Service orchestrates reading-position updates and session tracking.
//
// Every operation establishes book ownership first; a cross-owner book ID
// resolves to book_not_found before any progress state is touched.
type Service struct {
	progress ProgressRepository
	sessions SessionRepository
	books    book.BookRepository
	chapters book.ChapterRepository
	cache    CacheLayer
	logger   *slog.Logger
}

// NewService constructs a new [Service] with its required dependencies.
func NewService(
	progressRepo ProgressRepository,
	sessionRepo SessionRepository,
	books book.BookRepository,
	chapters book.ChapterRepository,
	cacheLayer CacheLayer,
	logger *slog.Logger,
) *Service {
	return &Service{
		progress: progressRepo,
		sessions: sessionRepo,
		books:    books,
		chapters: chapters,
		cache:    cacheLayer,
		logger:   logger,
	}
}

// # Position Updates

// UpdateInput carries one position report into the service layer.
type UpdateInput struct {
	CurrentChapter      int     `json:"current_chapter"`
	CurrentPagePercent  float64 `json:"current_page_percent"`
	LocationFingerprint string  `json:"location_fingerprint"`
	ScrollOffsetPercent float64 `json:"scroll_offset_percent"`
	ReadingTimeMinutes  int     `json:"reading_time_minutes"`
}

/*
Update validates and upserts the reading position for one (user, book) pair.

The overall percentage is computed here against the live chapter count and
stored alongside the raw position, so list queries read it eagerly. Cached
views of the progress row and the book list are invalidated after the write
commits and before success returns.
*/
func (service *Service) Update(ctx context.Context, userID, bookID string, input UpdateInput) (*ReadingProgress, error) {

	// ── 1. Ownership ──
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}

	chapterCount, err := service.chapters.CountByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	// ── 2. Validation ──
	validator := &validate.Validator{}
	validator.Custom("current_chapter", input.CurrentChapter < 1, "Chapter numbers start at 1")
	validator.Custom("current_page_percent",
		input.CurrentPagePercent < 0 || input.CurrentPagePercent > 100,
		"Must be between 0 and 100")
	validator.Custom("scroll_offset_percent",
		input.ScrollOffsetPercent < 0 || input.ScrollOffsetPercent > 100,
		"Must be between 0 and 100")
	validator.MaxLen("location_fingerprint", input.LocationFingerprint, constants.LocationFingerprintMaxChars)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	// ── 3. Derived percentage and upsert ──
	row := &ReadingProgress{
		ID:                  uuidv7.New(),
		UserID:              userID,
		BookID:              bookID,
		CurrentChapter:      input.CurrentChapter,
		CurrentPagePercent:  input.CurrentPagePercent,
		LocationFingerprint: input.LocationFingerprint,
		ScrollOffsetPercent: input.ScrollOffsetPercent,
		ReadingTimeMinutes:  input.ReadingTimeMinutes,
		ReadingPercent: ComputePercent(
			input.CurrentChapter,
			input.CurrentPagePercent,
			input.LocationFingerprint,
			chapterCount,
		),
		LastReadAt: time.Now().UTC(),
	}

	if err := service.progress.Upsert(ctx, row); err != nil {
		return nil, err
	}

	// ── 4. Invalidation ──
	service.cache.Delete(ctx, cache.UserProgressKey(userID, bookID))
	service.cache.DeletePattern(ctx, cache.UserBooksPattern(userID))

	return row, nil
}

// Get returns the reading position for one (user, book) pair, cache-first.
func (service *Service) Get(ctx context.Context, userID, bookID string) (*ReadingProgress, error) {
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}

	key := cache.UserProgressKey(userID, bookID)
	var cached ReadingProgress
	if service.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	row, err := service.progress.Find(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}

	service.cache.SetJSON(ctx, key, row, cache.ClassUserProgress)

	return row, nil
}

// # Reading Sessions

// StartSession opens a new reading sitting, closing any previous active one
// for the pair so the single-active invariant holds.
func (service *Service) StartSession(ctx context.Context, userID, bookID, startPosition string) (*ReadingSession, error) {
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}

	closed, err := service.sessions.CloseActive(ctx, userID, bookID, startPosition)
	if err != nil {
		return nil, err
	}
	if closed > 0 {
		service.logger.Info("reading_session_superseded",
			slog.String("user_id", userID),
			slog.String("book_id", bookID),
		)
	}

	session := &ReadingSession{
		ID:            uuidv7.New(),
		UserID:        userID,
		BookID:        bookID,
		StartedAt:     time.Now().UTC(),
		StartPosition: startPosition,
		IsActive:      true,
	}
	if err := service.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// EndSession closes the active sitting, stamping duration and end position.
func (service *Service) EndSession(ctx context.Context, userID, bookID, endPosition string) (*ReadingSession, error) {
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}

	active, err := service.sessions.FindActive(ctx, userID, bookID)
	if err != nil {
		return nil, apperr.NotFound("Active reading session")
	}

	if _, err := service.sessions.CloseActive(ctx, userID, bookID, endPosition); err != nil {
		return nil, err
	}

	// Mirror the SQL-side close into the response payload.
	now := time.Now().UTC()
	active.EndedAt = pointer.To(now)
	active.EndPosition = endPosition
	active.IsActive = false
	active.DurationMinutes = int(now.Sub(active.StartedAt).Minutes())
	if active.DurationMinutes < 0 {
		active.DurationMinutes = 0
	}

	return active, nil
}
