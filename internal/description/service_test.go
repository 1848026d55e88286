// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/description"
	"github.com/fablio/fablio/internal/platform/apperr"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[string][]description.Description // by chapter ID
	created int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string][]description.Description{}}
}

func (f *fakeRepo) CreateAll(_ context.Context, descriptions []description.Description) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range descriptions {
		f.rows[row.ChapterID] = append(f.rows[row.ChapterID], row)
		f.created++
	}
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, descriptionID string) (*description.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rows := range f.rows {
		for _, row := range rows {
			if row.ID == descriptionID {
				copied := row
				return &copied, nil
			}
		}
	}
	return nil, apperr.NotFound("Description").WithCode("description_not_found")
}

func (f *fakeRepo) ListByChapter(_ context.Context, chapterID string) ([]description.Description, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]description.Description{}, f.rows[chapterID]...), nil
}

func (f *fakeRepo) ListPendingImages(_ context.Context, _ string, _ int) ([]description.Description, error) {
	return nil, nil
}

type fakeExtractor struct {
	mu         sync.Mutex
	candidates []description.Candidate
	failOn     map[int]error // 1-indexed call number
	calls      int
	sawV2      bool
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, useV2 bool) ([]description.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sawV2 = useV2
	if err, ok := f.failOn[f.calls]; ok {
		return nil, err
	}
	return f.candidates, nil
}

type fakeBookRepo struct{}

func (f *fakeBookRepo) Create(_ context.Context, _ *book.Book) error { return nil }

func (f *fakeBookRepo) FindByID(_ context.Context, ownerID, bookID string) (*book.Book, error) {
	if ownerID != testUserID {
		return nil, apperr.NotFound("Book").WithCode("book_not_found")
	}
	return &book.Book{ID: bookID, OwnerUserID: ownerID}, nil
}

func (f *fakeBookRepo) List(_ context.Context, _ string, _ book.ListOptions) ([]book.Summary, int, error) {
	return nil, 0, nil
}

func (f *fakeBookRepo) Delete(_ context.Context, _, _ string) ([]string, error) { return nil, nil }

func (f *fakeBookRepo) SetParsingState(_ context.Context, _ string, _ int, _ bool, _ *string) error {
	return nil
}

func (f *fakeBookRepo) TouchLastAccessed(_ context.Context, _ string) error { return nil }

type fakeChapterRepo struct {
	mu       sync.Mutex
	chapters []book.Chapter
	marked   map[string]int // chapter ID -> descriptions found
}

func newFakeChapterRepo(chapters ...book.Chapter) *fakeChapterRepo {
	return &fakeChapterRepo{chapters: chapters, marked: map[string]int{}}
}

func (f *fakeChapterRepo) CreateAll(_ context.Context, _ []book.Chapter) error { return nil }

func (f *fakeChapterRepo) FindByNumber(_ context.Context, bookID string, number int) (*book.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, chapter := range f.chapters {
		if chapter.BookID == bookID && chapter.ChapterNumber == number {
			copied := chapter
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Chapter").WithCode("chapter_not_found")
}

func (f *fakeChapterRepo) ListByBook(_ context.Context, bookID string) ([]book.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listed := []book.Chapter{}
	for _, chapter := range f.chapters {
		if chapter.BookID == bookID {
			listed = append(listed, chapter)
		}
	}
	return listed, nil
}

func (f *fakeChapterRepo) ListTOC(_ context.Context, _ string) ([]book.TOCEntry, error) {
	return nil, nil
}

func (f *fakeChapterRepo) CountByBook(_ context.Context, bookID string) (int, error) {
	listed, _ := f.ListByBook(context.Background(), bookID)
	return len(listed), nil
}

func (f *fakeChapterRepo) MarkDescriptionParsed(_ context.Context, chapterID string, found int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[chapterID] = found
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCache) GetJSON(_ context.Context, _ string, _ any) bool { return false }

func (f *fakeCache) SetJSON(_ context.Context, _ string, _ any, _ cache.Class) bool { return true }

func (f *fakeCache) Delete(_ context.Context, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
}

type fixedCohorts struct{ useV2 bool }

func (f fixedCohorts) UseV2(_ context.Context, _ string) bool { return f.useV2 }

const (
	testUserID = "user-1"
	testBookID = "book-1"
)

func candidate(kind description.Type, content string, confidence float64) description.Candidate {
	return description.Candidate{
		Type:            kind,
		Content:         content,
		ConfidenceScore: confidence,
		PriorityScore:   confidence * 10,
		WordCount:       len(strings.Fields(content)),
	}
}

func testChapter(id string, number int, parsed bool) book.Chapter {
	return book.Chapter{
		ID:                  id,
		BookID:              testBookID,
		ChapterNumber:       number,
		Title:               "Chapter",
		Content:             "A long stretch of prose about a castle on a hill.",
		IsDescriptionParsed: parsed,
	}
}

// ── Extraction ───────────────────────────────────────────────────────────────

func TestExtractForChapter_FiltersAndDedups(t *testing.T) {
	repo := newFakeRepo()
	chapters := newFakeChapterRepo()
	cacheLayer := &fakeCache{}
	extractor := &fakeExtractor{candidates: []description.Candidate{
		candidate(description.TypeLocation, "A ruined castle loomed over the grey valley.", 0.9),
		candidate(description.TypeCharacter, "low confidence portrait", 0.2),
		candidate(description.Type("landscape"), "unknown type entry", 0.9),
		// Same content as the first, different case and spacing.
		candidate(description.TypeLocation, "  A RUINED castle   loomed over the grey valley.  ", 0.8),
		candidate(description.TypeAtmosphere, "Fog crept through the narrow streets at dawn.", 0.6),
	}}

	service := description.NewService(repo, &fakeBookRepo{}, chapters, extractor, cacheLayer, 0.4,
		slog.New(slog.DiscardHandler))

	chapter := testChapter("ch-1", 1, false)
	rows, err := service.ExtractForChapter(context.Background(), &chapter, false)
	require.NoError(t, err)

	require.Len(t, rows, 2, "low-confidence, unknown-type and duplicate candidates must be dropped")
	assert.Equal(t, description.TypeLocation, rows[0].Type)
	assert.Equal(t, description.TypeAtmosphere, rows[1].Type)
	assert.Equal(t, testBookID, rows[0].BookID)
	assert.NotEmpty(t, rows[0].ID)

	assert.Equal(t, 2, chapters.marked["ch-1"])
	assert.Contains(t, cacheLayer.deleted, cache.BookDescriptionsKey(testBookID, 1))
}

func TestExtractForChapter_SkipsParsedChapter(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateAll(context.Background(), []description.Description{
		{ID: "d-1", BookID: testBookID, ChapterID: "ch-1", Type: description.TypeLocation, Content: "stored"},
	}))

	extractor := &fakeExtractor{}
	service := description.NewService(repo, &fakeBookRepo{}, newFakeChapterRepo(), extractor, &fakeCache{},
		0.4, slog.New(slog.DiscardHandler))

	chapter := testChapter("ch-1", 1, true)
	rows, err := service.ExtractForChapter(context.Background(), &chapter, false)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "d-1", rows[0].ID)
	assert.Zero(t, extractor.calls, "a parsed chapter must never hit the extractor again")
}

func TestDedupKey_NormalizesAndTruncates(t *testing.T) {
	assert.Equal(t,
		description.DedupKey("The OLD  house"),
		description.DedupKey("the old house"),
	)

	long := strings.Repeat("abcde ", 60)
	assert.Len(t, description.DedupKey(long), 120)

	// Divergence beyond the prefix does not distinguish candidates.
	assert.Equal(t,
		description.DedupKey(strings.Repeat("x", 150)+"one"),
		description.DedupKey(strings.Repeat("x", 150)+"two"),
	)
}

// ── Pipeline Runner ──────────────────────────────────────────────────────────

type progressReport struct {
	progress int
	found    int
}

func newRunner(chapters *fakeChapterRepo, extractor *fakeExtractor, useV2 bool) *description.PipelineRunner {
	logger := slog.New(slog.DiscardHandler)
	service := description.NewService(newFakeRepo(), &fakeBookRepo{}, chapters, extractor, &fakeCache{},
		0.4, logger)
	return description.NewPipelineRunner(service, chapters, fixedCohorts{useV2: useV2}, logger)
}

func TestRun_ReportsCumulativeProgress(t *testing.T) {
	chapters := newFakeChapterRepo(
		testChapter("ch-1", 1, false),
		testChapter("ch-2", 2, false),
		testChapter("ch-3", 3, false),
	)
	extractor := &fakeExtractor{candidates: []description.Candidate{
		candidate(description.TypeLocation, "A windswept moor under heavy clouds.", 0.9),
	}}

	var reports []progressReport
	err := newRunner(chapters, extractor, true).Run(context.Background(), testBookID, testUserID,
		func(progress int, _ string, found int) {
			reports = append(reports, progressReport{progress: progress, found: found})
		})
	require.NoError(t, err)

	require.Len(t, reports, 3)
	assert.Equal(t, []progressReport{{33, 1}, {66, 2}, {100, 3}}, reports)
	assert.True(t, extractor.sawV2, "cohort selection must reach the extractor")
}

func TestRun_SkipsFailedChapter(t *testing.T) {
	chapters := newFakeChapterRepo(
		testChapter("ch-1", 1, false),
		testChapter("ch-2", 2, false),
	)
	extractor := &fakeExtractor{
		candidates: []description.Candidate{
			candidate(description.TypeLocation, "A quiet harbour at dusk.", 0.9),
		},
		failOn: map[int]error{1: errors.New("model returned malformed JSON")},
	}

	var last progressReport
	err := newRunner(chapters, extractor, false).Run(context.Background(), testBookID, testUserID,
		func(progress int, _ string, found int) {
			last = progressReport{progress: progress, found: found}
		})
	require.NoError(t, err, "one bad chapter must not fail the run")

	assert.Equal(t, progressReport{100, 1}, last)
}

func TestRun_AbortsWhenRetriesExhausted(t *testing.T) {
	chapters := newFakeChapterRepo(
		testChapter("ch-1", 1, false),
		testChapter("ch-2", 2, false),
	)
	exhausted := apperr.Upstream("Extractor gave up").WithCode("extractor_retries_exhausted")
	extractor := &fakeExtractor{failOn: map[int]error{1: exhausted}}

	err := newRunner(chapters, extractor, false).Run(context.Background(), testBookID, testUserID,
		func(int, string, int) {})
	require.Error(t, err)
	assert.Equal(t, "extractor_retries_exhausted", apperr.As(err).Code)
	assert.Equal(t, 1, extractor.calls, "remaining chapters would hit the same wall")
}

func TestRun_ObservesCancellationAtChapterBoundary(t *testing.T) {
	chapters := newFakeChapterRepo(testChapter("ch-1", 1, false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newRunner(chapters, &fakeExtractor{}, false).Run(ctx, testBookID, testUserID,
		func(int, string, int) {})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_EmptyBookCompletesImmediately(t *testing.T) {
	var last progressReport
	err := newRunner(newFakeChapterRepo(), &fakeExtractor{}, false).Run(
		context.Background(), testBookID, testUserID,
		func(progress int, _ string, found int) {
			last = progressReport{progress: progress, found: found}
		})
	require.NoError(t, err)
	assert.Equal(t, progressReport{100, 0}, last)
}
