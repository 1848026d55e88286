// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/pkg/uuidv7"
)

// Extractor is the LLM adapter boundary. The useV2 flag selects the
// experimental prompt architecture for canary-cohort users.
type Extractor interface {
	Extract(ctx context.Context, text string, useV2 bool) ([]Candidate, error)
}

// CacheLayer is the slice of the cache the description domain needs.
type CacheLayer interface {
	GetJSON(ctx context.Context, key string, target any) bool
	SetJSON(ctx context.Context, key string, value any, class cache.Class) bool
	Delete(ctx context.Context, keys ...string)
}

// Service drives description extraction and serves stored results.
type Service struct {
	descriptions Repository
	books        book.BookRepository
	chapters     book.ChapterRepository
	extractor    Extractor
	cache        CacheLayer
	logger       *slog.Logger

	// minConfidence is the extraction floor; candidates below it are dropped
	// before persistence.
	minConfidence float64
}

// NewService constructs a new [Service] with its required dependencies.
func NewService(
	descriptions Repository,
	books book.BookRepository,
	chapters book.ChapterRepository,
	extractor Extractor,
	cacheLayer CacheLayer,
	minConfidence float64,
	logger *slog.Logger,
) *Service {
	return &Service{
		descriptions:  descriptions,
		books:         books,
		chapters:      chapters,
		extractor:     extractor,
		cache:         cacheLayer,
		logger:        logger,
		minConfidence: minConfidence,
	}
}

/*
ExtractForChapter runs the extraction pipeline for one chapter.

# Pipeline

 1. A chapter already marked parsed returns its stored rows; the extractor
    is never re-invoked for it.
 2. The extractor returns raw candidates for the chapter prose.
 3. Candidates with an unknown type or a confidence below the floor are
    dropped; duplicates (by normalized content prefix) keep the first
    occurrence only.
 4. Survivors are persisted, the chapter is marked parsed with its count,
    and the cached description view is invalidated.
*/
func (service *Service) ExtractForChapter(ctx context.Context, chapter *book.Chapter, useV2 bool) ([]Description, error) {

	// ── 1. Skip already-parsed chapters ──
	if chapter.IsDescriptionParsed {
		return service.descriptions.ListByChapter(ctx, chapter.ID)
	}

	// ── 2. Extraction ──
	candidates, err := service.extractor.Extract(ctx, chapter.Content, useV2)
	if err != nil {
		return nil, fmt.Errorf("description_extract_failed: %w", err)
	}

	// ── 3. Filtering and dedup ──
	rows := make([]Description, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Type.IsValid() {
			service.logger.Warn("description_unknown_type_dropped",
				slog.String("chapter_id", chapter.ID),
				slog.String("type", string(candidate.Type)),
			)
			continue
		}
		if candidate.ConfidenceScore < service.minConfidence {
			continue
		}

		key := DedupKey(candidate.Content)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}

		rows = append(rows, Description{
			ID:                uuidv7.New(),
			BookID:            chapter.BookID,
			ChapterID:         chapter.ID,
			Type:              candidate.Type,
			Content:           candidate.Content,
			Context:           candidate.Context,
			ConfidenceScore:   candidate.ConfidenceScore,
			PriorityScore:     candidate.PriorityScore,
			PositionInChapter: candidate.PositionInChapter,
			WordCount:         candidate.WordCount,
			EntitiesMentioned: candidate.EntitiesMentioned,
		})
	}

	// ── 4. Persistence and bookkeeping ──
	if err := service.descriptions.CreateAll(ctx, rows); err != nil {
		return nil, err
	}
	if err := service.chapters.MarkDescriptionParsed(ctx, chapter.ID, len(rows)); err != nil {
		return nil, err
	}

	service.cache.Delete(ctx, cache.BookDescriptionsKey(chapter.BookID, chapter.ChapterNumber))

	service.logger.Info("chapter_descriptions_extracted",
		slog.String("book_id", chapter.BookID),
		slog.String("chapter_id", chapter.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("kept", len(rows)),
	)

	return rows, nil
}

// ListForChapter returns the stored descriptions of one chapter, owner-scoped
// and cache-first.
func (service *Service) ListForChapter(ctx context.Context, userID, bookID string, chapterNumber int) ([]Description, error) {
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}

	key := cache.BookDescriptionsKey(bookID, chapterNumber)
	var cached []Description
	if service.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	chapter, err := service.chapters.FindByNumber(ctx, bookID, chapterNumber)
	if err != nil {
		return nil, err
	}

	rows, err := service.descriptions.ListByChapter(ctx, chapter.ID)
	if err != nil {
		return nil, err
	}

	service.cache.SetJSON(ctx, key, rows, cache.ClassBookDescriptions)

	return rows, nil
}
