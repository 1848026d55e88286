// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/platform/apperr"
)

// CohortSelector decides whether a user's run uses the experimental
// extraction architecture. Implemented by the canary controller.
type CohortSelector interface {
	UseV2(ctx context.Context, userID string) bool
}

// PipelineRunner is the execution body of one parsing job: it walks the
// chapters of a book in order and extracts descriptions for each.
//
// The parsing coordinator owns the job lifecycle (queue, lock, status); the
// runner only reports progress through the supplied callback.
type PipelineRunner struct {
	service  *Service
	chapters book.ChapterRepository
	cohorts  CohortSelector
	logger   *slog.Logger
}

// NewPipelineRunner constructs the runner the coordinator executes.
func NewPipelineRunner(
	service *Service,
	chapters book.ChapterRepository,
	cohorts CohortSelector,
	logger *slog.Logger,
) *PipelineRunner {
	return &PipelineRunner{
		service:  service,
		chapters: chapters,
		cohorts:  cohorts,
		logger:   logger,
	}
}

/*
Run processes every chapter of the book in order.

The architecture variant is chosen once per run, so a canary transition
mid-run cannot mix variants within one book. A single chapter failure is
logged and skipped; extractor retry exhaustion aborts the whole run since
every remaining chapter would hit the same wall. Cancellation is observed at
chapter boundaries.
*/
func (runner *PipelineRunner) Run(ctx context.Context, bookID, userID string, report func(progress int, message string, descriptionsFound int)) error {
	chapters, err := runner.chapters.ListByBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("pipeline_run_list_chapters_failed: %w", err)
	}

	total := len(chapters)
	if total == 0 {
		report(100, "No chapters to process", 0)
		return nil
	}

	useV2 := runner.cohorts.UseV2(ctx, userID)
	runner.logger.Info("pipeline_run_started",
		slog.String("book_id", bookID),
		slog.Int("chapters", total),
		slog.Bool("v2_architecture", useV2),
	)

	found := 0
	for index := range chapters {
		if err := ctx.Err(); err != nil {
			return err
		}

		chapter := &chapters[index]
		rows, err := runner.service.ExtractForChapter(ctx, chapter, useV2)
		if err != nil {
			if appErr := apperr.As(err); appErr != nil && appErr.Code == "extractor_retries_exhausted" {
				return err
			}
			runner.logger.Warn("pipeline_chapter_skipped",
				slog.String("book_id", bookID),
				slog.Int("chapter_number", chapter.ChapterNumber),
				slog.Any("error", err),
			)
		} else {
			found += len(rows)
		}

		processed := index + 1
		report(
			processed*100/total,
			fmt.Sprintf("Processed chapter %d of %d", processed, total),
			found,
		)
	}

	return nil
}
