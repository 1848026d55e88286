// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package imagegen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/description"
	"github.com/fablio/fablio/internal/flags"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/storage"
	"github.com/fablio/fablio/pkg/uuidv7"
)

// Service orchestrates illustration generation for stored descriptions.
type Service struct {
	images       Repository
	descriptions description.Repository
	books        book.BookRepository
	generator    Generator
	translator   Translator
	flags        FlagChecker
	files        *storage.Store
	logger       *slog.Logger

	// workerCount bounds batch concurrency.
	workerCount int
}

// NewService constructs a new [Service] with its required dependencies.
func NewService(
	images Repository,
	descriptions description.Repository,
	books book.BookRepository,
	generator Generator,
	translator Translator,
	flagChecker FlagChecker,
	files *storage.Store,
	workerCount int,
	logger *slog.Logger,
) *Service {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Service{
		images:       images,
		descriptions: descriptions,
		books:        books,
		generator:    generator,
		translator:   translator,
		flags:        flagChecker,
		files:        files,
		logger:       logger,
		workerCount:  workerCount,
	}
}

/*
Generate produces (or returns) the illustration for one description.

Generation is idempotent: an existing image row short-circuits before any
model call. The owner scope comes from the description's book, so a foreign
description resolves to book_not_found.
*/
func (service *Service) Generate(ctx context.Context, userID, descriptionID string) (*GeneratedImage, error) {
	if !service.flags.IsEnabled(ctx, flags.FlagImageGenerationEnabled, true) {
		return nil, apperr.ServiceUnavailable("Image generation is currently disabled").
			WithCode("image_generation_disabled")
	}

	target, err := service.descriptions.FindByID(ctx, descriptionID)
	if err != nil {
		return nil, err
	}

	owned, err := service.books.FindByID(ctx, userID, target.BookID)
	if err != nil {
		return nil, err
	}

	if existing, err := service.images.FindByDescription(ctx, descriptionID); err == nil {
		return existing, nil
	}

	return service.generateOne(ctx, target, owned)
}

// BatchItem is the outcome of one description inside a batch run.
type BatchItem struct {
	DescriptionID string          `json:"description_id"`
	Image         *GeneratedImage `json:"image,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// BatchResult summarizes a batch generation run.
type BatchResult struct {
	Requested int         `json:"requested"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Items     []BatchItem `json:"items"`
}

/*
GenerateBatch illustrates the top-count pending descriptions of a book.

Candidates are the highest-priority descriptions without an image. Each item
succeeds or fails independently under bounded concurrency; a failed item
never aborts its siblings.
*/
func (service *Service) GenerateBatch(ctx context.Context, userID, bookID string, count int) (*BatchResult, error) {
	if !service.flags.IsEnabled(ctx, flags.FlagImageGenerationEnabled, true) {
		return nil, apperr.ServiceUnavailable("Image generation is currently disabled").
			WithCode("image_generation_disabled")
	}

	owned, err := service.books.FindByID(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}

	if count < 1 {
		count = 1
	}

	pending, err := service.descriptions.ListPendingImages(ctx, bookID, count)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Requested: len(pending),
		Items:     make([]BatchItem, 0, len(pending)),
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(service.workerCount)

	for index := range pending {
		target := &pending[index]
		group.Go(func() error {
			image, err := service.generateOne(groupCtx, target, owned)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Items = append(result.Items, BatchItem{
					DescriptionID: target.ID,
					Error:         err.Error(),
				})
				return nil // item failures stay local to the item
			}
			result.Succeeded++
			result.Items = append(result.Items, BatchItem{
				DescriptionID: target.ID,
				Image:         image,
			})
			return nil
		})
	}

	_ = group.Wait()

	service.logger.Info("image_batch_finished",
		slog.String("book_id", bookID),
		slog.Int("requested", result.Requested),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)

	return result, nil
}

// ListForBook returns every generated image of a book, owner-scoped.
func (service *Service) ListForBook(ctx context.Context, userID, bookID string) ([]GeneratedImage, error) {
	if _, err := service.books.FindByID(ctx, userID, bookID); err != nil {
		return nil, err
	}
	return service.images.ListByBook(ctx, bookID)
}

// generateOne runs the model call and persistence for one description whose
// ownership is already established.
func (service *Service) generateOne(ctx context.Context, target *description.Description, owned *book.Book) (*GeneratedImage, error) {

	// ── 1. Prompt assembly ──
	content := target.Content
	if owned.Language != "" && owned.Language != "en" {
		translated, err := service.translator.TranslateToEnglish(ctx, content)
		if err != nil {
			// A failed translation degrades to the original text rather than
			// blocking generation.
			service.logger.Warn("prompt_translation_failed",
				slog.String("description_id", target.ID),
				slog.Any("error", err),
			)
		} else {
			content = translated
		}
	}
	prompt := BuildPrompt(target.Type, content, owned.Genre)

	// ── 2. Model call ──
	started := time.Now()
	asset, err := service.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	// ── 3. Persistence ──
	image := &GeneratedImage{
		ID:                    uuidv7.New(),
		DescriptionID:         target.ID,
		BookID:                target.BookID,
		UserID:                owned.OwnerUserID,
		Prompt:                prompt,
		ContentType:           asset.ContentType,
		Width:                 asset.Width,
		Height:                asset.Height,
		GenerationTimeSeconds: time.Since(started).Seconds(),
	}

	relative, err := service.files.SaveGeneratedImage(promptHash(prompt), asset.ImageBytes)
	if err != nil {
		service.logger.Error("generated_image_write_failed",
			slog.String("description_id", target.ID),
			slog.Any("error", err),
		)
	} else {
		image.LocalPath = &relative
	}

	if err := service.images.Create(ctx, image); err != nil {
		if image.LocalPath != nil {
			_ = service.files.Remove(*image.LocalPath)
		}
		return nil, err
	}

	return image, nil
}

// promptHash derives the deterministic filename prefix for a prompt.
func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
