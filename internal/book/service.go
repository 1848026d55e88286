// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package book

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/storage"
	"github.com/fablio/fablio/pkg/slice"
	"github.com/fablio/fablio/pkg/slug"
	"github.com/fablio/fablio/pkg/uuidv7"
)

// # Service Layer

// CacheLayer is the slice of the cache the library needs. Implemented by
// [cache.Cache]; fakes stand in for it in tests.
type CacheLayer interface {
	GetJSON(ctx context.Context, key string, target any) bool
	SetJSON(ctx context.Context, key string, value any, class cache.Class) bool
	Delete(ctx context.Context, keys ...string)
	DeletePattern(ctx context.Context, pattern string) int
}

// UploadHook runs after a successful upload. The composition root points it
// at the parsing coordinator so uploads kick off description extraction when
// the feature is enabled. A nil hook disables the kick-off.
type UploadHook func(ctx context.Context, uploaded *Book)

// Service orchestrates the business logic of the library: uploads, cached
// reads, and cascading deletes.
type Service struct {
	books    BookRepository
	chapters ChapterRepository
	parser   Parser
	files    *storage.Store
	cache    CacheLayer
	logger   *slog.Logger

	maxUploadBytes int64
	afterUpload    UploadHook
}

// NewService constructs a new [Service] with its required dependencies.
func NewService(
	books BookRepository,
	chapters ChapterRepository,
	parser Parser,
	files *storage.Store,
	cacheLayer CacheLayer,
	maxUploadBytes int64,
	logger *slog.Logger,
) *Service {
	return &Service{
		books:          books,
		chapters:       chapters,
		parser:         parser,
		files:          files,
		cache:          cacheLayer,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// OnUpload registers the post-upload hook. Called once at wire time.
func (service *Service) OnUpload(hook UploadHook) { service.afterUpload = hook }

// # Ingestion

// UploadInput carries one multipart upload into the service layer.
type UploadInput struct {
	FileName string
	Size     int64
	Genre    string
	File     io.Reader
}

/*
Upload ingests one book file: validate, persist to disk, parse the structure,
and store the book with its full chapter set.

The structural parse runs synchronously so the reader can open the book
immediately after upload; only the expensive description extraction is
deferred to the parsing queue via the upload hook.

Rejections carry distinct codes: unsupported_format, file_too_large,
empty_file for pre-parse validation, corrupted when the container cannot be
read.
*/
func (service *Service) Upload(ctx context.Context, ownerID string, input UploadInput) (*Book, error) {

	// ── 1. Pre-parse validation ──
	format, err := formatFromFileName(input.FileName)
	if err != nil {
		return nil, err
	}
	if input.Size <= 0 {
		return nil, apperr.ValidationError("Uploaded file is empty").WithCode("empty_file")
	}
	if input.Size > service.maxUploadBytes {
		return nil, apperr.ValidationError(
			fmt.Sprintf("File exceeds the %d MB upload limit", service.maxUploadBytes/(1<<20)),
		).WithCode("file_too_large")
	}

	genre := Genre(input.Genre)
	if input.Genre == "" {
		genre = GenreOther
	}
	if !genre.IsValid() {
		return nil, apperr.ValidationError("Unknown genre").WithCode("invalid_field")
	}

	// ── 2. File persistence ──
	uploadID := uuidv7.New()
	stem := uploadID
	if titleSlug := slug.From(titleFromFileName(input.FileName)); titleSlug != "" {
		stem = titleSlug + "-" + uploadID
	}
	filePath, written, err := service.files.SaveBookFile(stem, "."+string(format), input.File)
	if err != nil {
		return nil, fmt.Errorf("book_upload_save_failed: %w", err)
	}
	if written == 0 {
		_ = service.files.Remove(filePath)
		return nil, apperr.ValidationError("Uploaded file is empty").WithCode("empty_file")
	}

	// ── 3. Structural parse ──
	parsed, err := service.parser.Parse(ctx, filepath.Join(service.files.Root(), filePath), format)
	if err != nil {
		_ = service.files.Remove(filePath)
		return nil, apperr.ValidationError("File could not be parsed").
			WithCode("corrupted").
			WithCause(err)
	}

	// ── 4. Entity assembly ──
	totalWords := parsed.TotalWords()
	newBook := &Book{
		ID:                   uploadID,
		OwnerUserID:          ownerID,
		Title:                firstNonEmpty(parsed.Title, titleFromFileName(input.FileName)),
		Author:               firstNonEmpty(parsed.Author, "Unknown"),
		Genre:                genre,
		Language:             firstNonEmpty(parsed.Language, "en"),
		FileFormat:           format,
		FilePath:             filePath,
		FileSize:             written,
		Metadata:             parsed.Metadata,
		TotalChapters:        len(parsed.Chapters),
		TotalPages:           totalWords / constants.WordsPerPage,
		EstimatedReadMinutes: totalWords / constants.WordsPerMinute,
	}

	if len(parsed.Cover) > 0 {
		coverPath, err := service.files.SaveCover(newBook.ID, parsed.Cover)
		if err != nil {
			service.logger.Warn("book_cover_save_failed",
				slog.String("book_id", newBook.ID),
				slog.Any("error", err),
			)
		} else {
			newBook.CoverPath = coverPath
		}
	}

	// ── 5. Persistence ──
	if err := service.books.Create(ctx, newBook); err != nil {
		_ = service.files.Remove(filePath)
		_ = service.files.Remove(newBook.CoverPath)
		return nil, err
	}

	chapters := slice.Map(parsed.Chapters, func(parsedChapter ParsedChapter) Chapter {
		return Chapter{
			ID:            uuidv7.New(),
			BookID:        newBook.ID,
			ChapterNumber: parsedChapter.Number,
			Title:         parsedChapter.Title,
			Content:       parsedChapter.Content,
			HTMLContent:   parsedChapter.HTMLContent,
			WordCount:     parsedChapter.WordCount,
		}
	})
	if err := service.chapters.CreateAll(ctx, chapters); err != nil {
		return nil, err
	}

	// ── 6. Invalidation and kick-off ──
	service.cache.DeletePattern(ctx, cache.UserBooksPattern(ownerID))

	service.logger.Info("book_uploaded",
		slog.String("book_id", newBook.ID),
		slog.String("owner_id", ownerID),
		slog.String("format", string(format)),
		slog.Int("chapters", len(chapters)),
		slog.Int64("bytes", written),
	)

	if service.afterUpload != nil {
		service.afterUpload(ctx, newBook)
	}

	return newBook, nil
}

// # Library Reads

// List returns one page of the owner's library, cache-first.
func (service *Service) List(ctx context.Context, ownerID string, options ListOptions) ([]Summary, int, error) {
	if options.Sort == "" {
		options.Sort = SortCreatedDesc
	}
	if _, ok := OrderClause(options.Sort); !ok {
		return nil, 0, apperr.ValidationError("Unknown sort key").WithCode("invalid_field")
	}

	type listPage struct {
		Items []Summary `json:"items"`
		Total int       `json:"total"`
	}

	key := cache.BookListKey(ownerID, options.Skip, options.Limit, options.Sort)
	var cached listPage
	if service.cache.GetJSON(ctx, key, &cached) {
		return cached.Items, cached.Total, nil
	}

	items, total, err := service.books.List(ctx, ownerID, options)
	if err != nil {
		return nil, 0, err
	}

	service.cache.SetJSON(ctx, key, listPage{Items: items, Total: total}, cache.ClassBookList)

	return items, total, nil
}

/*
Get retrieves one book detail, cache-first, and bumps last_accessed_at.

The metadata cache key is book-scoped while access is owner-scoped, so a
cached entry is only served when its owner matches the caller; anything else
behaves like a missing book.
*/
func (service *Service) Get(ctx context.Context, ownerID, bookID string) (*Book, error) {
	key := cache.BookMetadataKey(bookID)

	var found *Book
	var cached Book
	if service.cache.GetJSON(ctx, key, &cached) && cached.OwnerUserID == ownerID {
		found = &cached
	}

	if found == nil {
		loaded, err := service.books.FindByID(ctx, ownerID, bookID)
		if err != nil {
			return nil, err
		}
		service.cache.SetJSON(ctx, key, loaded, cache.ClassBookMetadata)
		found = loaded
	}

	// Fire-and-forget access bump. The read path must not wait on it, and a
	// failure only leaves the accessed_desc sort stale.
	go func(bookID string) {
		background := context.WithoutCancel(ctx)
		if err := service.books.TouchLastAccessed(background, bookID); err != nil {
			service.logger.Warn("book_touch_failed", slog.String("book_id", bookID), slog.Any("error", err))
		}
	}(found.ID)

	return found, nil
}

// GetTOC returns the chapter listing of an owned book, cache-first.
func (service *Service) GetTOC(ctx context.Context, ownerID, bookID string) ([]TOCEntry, error) {
	if _, err := service.books.FindByID(ctx, ownerID, bookID); err != nil {
		return nil, err
	}

	key := cache.BookTOCKey(bookID)
	var cached []TOCEntry
	if service.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	entries, err := service.chapters.ListTOC(ctx, bookID)
	if err != nil {
		return nil, err
	}

	service.cache.SetJSON(ctx, key, entries, cache.ClassBookTOC)

	return entries, nil
}

// GetChapter returns one chapter of an owned book, cache-first.
func (service *Service) GetChapter(ctx context.Context, ownerID, bookID string, number int) (*Chapter, error) {
	if number < 1 {
		return nil, apperr.ValidationError("Chapter numbers start at 1").WithCode("invalid_field")
	}
	if _, err := service.books.FindByID(ctx, ownerID, bookID); err != nil {
		return nil, err
	}

	key := cache.ChapterContentKey(bookID, number)
	var cached Chapter
	if service.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	chapter, err := service.chapters.FindByNumber(ctx, bookID, number)
	if err != nil {
		return nil, err
	}

	service.cache.SetJSON(ctx, key, chapter, cache.ClassChapterContent)

	return chapter, nil
}

// OpenCover opens the cover image of an owned book for streaming.
func (service *Service) OpenCover(ctx context.Context, ownerID, bookID string) (*os.File, error) {
	found, err := service.books.FindByID(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}
	if !found.HasCover() {
		return nil, apperr.NotFound("Cover").WithCode("image_not_found")
	}

	file, err := service.files.Open(found.CoverPath)
	if err != nil {
		return nil, apperr.NotFound("Cover").WithCode("image_not_found").WithCause(err)
	}

	return file, nil
}

// # Deletion

/*
Delete removes a book, its owned rows, its cached views, and its on-disk
artifacts.

Order matters: the row cascade commits first (rows are the source of truth),
then cached views are invalidated before returning, and file removal is
best-effort last.
*/
func (service *Service) Delete(ctx context.Context, ownerID, bookID string) error {
	orphanedPaths, err := service.books.Delete(ctx, ownerID, bookID)
	if err != nil {
		return err
	}

	service.cache.DeletePattern(ctx, cache.BookPattern(bookID))
	service.cache.DeletePattern(ctx, cache.UserBooksPattern(ownerID))
	service.cache.Delete(ctx, cache.UserProgressKey(ownerID, bookID))

	for _, path := range orphanedPaths {
		if err := service.files.Remove(path); err != nil {
			service.logger.Warn("book_artifact_remove_failed",
				slog.String("book_id", bookID),
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}

	service.logger.Info("book_deleted",
		slog.String("book_id", bookID),
		slog.String("owner_id", ownerID),
		slog.Int("artifacts", len(orphanedPaths)),
	)

	return nil
}

// # Internal Helpers

// formatFromFileName maps the file extension to a supported format.
func formatFromFileName(fileName string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".epub":
		return FormatEPUB, nil
	case ".fb2":
		return FormatFB2, nil
	default:
		return "", apperr.ValidationError("Only EPUB and FB2 files are supported").
			WithCode("unsupported_format")
	}
}

// titleFromFileName derives a display title from the uploaded file name when
// the container carries none.
func titleFromFileName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
