// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package progress_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/cache"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/progress"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeBookRepo struct {
	ownerID string
	bookID  string
}

func (f *fakeBookRepo) Create(_ context.Context, _ *book.Book) error { return nil }

func (f *fakeBookRepo) FindByID(_ context.Context, ownerID, bookID string) (*book.Book, error) {
	if ownerID != f.ownerID || bookID != f.bookID {
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
	count int
}

func (f *fakeChapterRepo) CreateAll(_ context.Context, _ []book.Chapter) error { return nil }

func (f *fakeChapterRepo) FindByNumber(_ context.Context, _ string, _ int) (*book.Chapter, error) {
	return nil, apperr.NotFound("Chapter").WithCode("chapter_not_found")
}

func (f *fakeChapterRepo) ListByBook(_ context.Context, _ string) ([]book.Chapter, error) {
	return nil, nil
}

func (f *fakeChapterRepo) ListTOC(_ context.Context, _ string) ([]book.TOCEntry, error) {
	return nil, nil
}

func (f *fakeChapterRepo) CountByBook(_ context.Context, _ string) (int, error) {
	return f.count, nil
}

func (f *fakeChapterRepo) MarkDescriptionParsed(_ context.Context, _ string, _ int) error {
	return nil
}

type fakeProgressRepo struct {
	mu   sync.Mutex
	rows map[string]*progress.ReadingProgress // keyed userID + "/" + bookID
}

func newFakeProgressRepo() *fakeProgressRepo {
	return &fakeProgressRepo{rows: map[string]*progress.ReadingProgress{}}
}

func (f *fakeProgressRepo) Upsert(_ context.Context, row *progress.ReadingProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *row
	f.rows[row.UserID+"/"+row.BookID] = &copied
	return nil
}

func (f *fakeProgressRepo) Find(_ context.Context, userID, bookID string) (*progress.ReadingProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID+"/"+bookID]
	if !ok {
		return nil, apperr.NotFound("Reading progress")
	}
	copied := *row
	return &copied, nil
}

func (f *fakeProgressRepo) Delete(_ context.Context, userID, bookID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, userID+"/"+bookID)
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions []*progress.ReadingSession
}

func (f *fakeSessionRepo) Create(_ context.Context, session *progress.ReadingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions = append(f.sessions, &copied)
	return nil
}

func (f *fakeSessionRepo) FindActive(_ context.Context, userID, bookID string) (*progress.ReadingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.UserID == userID && session.BookID == bookID && session.IsActive {
			copied := *session
			return &copied, nil
		}
	}
	return nil, apperr.NotFound("Reading session")
}

func (f *fakeSessionRepo) CloseActive(_ context.Context, userID, bookID, endPosition string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	closed := 0
	for _, session := range f.sessions {
		if session.UserID == userID && session.BookID == bookID && session.IsActive {
			session.IsActive = false
			session.EndPosition = endPosition
			closed++
		}
	}
	return closed, nil
}

func (f *fakeSessionRepo) activeCount(userID, bookID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, session := range f.sessions {
		if session.UserID == userID && session.BookID == bookID && session.IsActive {
			count++
		}
	}
	return count
}

type fakeCache struct {
	mu       sync.Mutex
	entries  map[string]any
	patterns []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]any{}}
}

func (f *fakeCache) GetJSON(_ context.Context, key string, target any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.entries[key]
	if !ok {
		return false
	}
	if row, ok := value.(*progress.ReadingProgress); ok {
		if out, ok := target.(*progress.ReadingProgress); ok {
			*out = *row
			return true
		}
	}
	return false
}

func (f *fakeCache) SetJSON(_ context.Context, key string, value any, _ cache.Class) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return true
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.entries, key)
	}
}

func (f *fakeCache) DeletePattern(_ context.Context, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	return 0
}

func (f *fakeCache) sawPattern(pattern string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seen := range f.patterns {
		if seen == pattern {
			return true
		}
	}
	return false
}

const (
	testUserID = "user-1"
	testBookID = "book-1"
)

type harness struct {
	service  *progress.Service
	progress *fakeProgressRepo
	sessions *fakeSessionRepo
	cache    *fakeCache
}

func newHarness(chapterCount int) *harness {
	progressRepo := newFakeProgressRepo()
	sessionRepo := &fakeSessionRepo{}
	cacheLayer := newFakeCache()

	service := progress.NewService(
		progressRepo,
		sessionRepo,
		&fakeBookRepo{ownerID: testUserID, bookID: testBookID},
		&fakeChapterRepo{count: chapterCount},
		cacheLayer,
		slog.New(slog.DiscardHandler),
	)

	return &harness{service: service, progress: progressRepo, sessions: sessionRepo, cache: cacheLayer}
}

// ── Percentage Math ──────────────────────────────────────────────────────────

func TestComputePercent(t *testing.T) {
	tests := []struct {
		name         string
		chapter      int
		pagePercent  float64
		fingerprint  string
		chapterCount int
		want         float64
	}{
		{
			name:    "fingerprint mode passes the page percent through",
			chapter: 3, pagePercent: 37.5, fingerprint: "epubcfi(/6/8!/4/2)", chapterCount: 10,
			want: 37.5,
		},
		{
			name:    "fingerprint mode still clamps",
			chapter: 1, pagePercent: 180, fingerprint: "epubcfi(/6/2)", chapterCount: 10,
			want: 100,
		},
		{
			name:    "legacy two chapter book halfway through the second",
			chapter: 2, pagePercent: 45, chapterCount: 2,
			want: 72.5, // 50 from chapter one + 45% of the second's 50-point span
		},
		{
			name:    "legacy first page of first chapter",
			chapter: 1, pagePercent: 0, chapterCount: 10,
			want: 0,
		},
		{
			name:    "legacy end of last chapter",
			chapter: 4, pagePercent: 100, chapterCount: 4,
			want: 100,
		},
		{
			name:    "chapter beyond the count reports finished",
			chapter: 9, pagePercent: 10, chapterCount: 4,
			want: 100,
		},
		{
			name:    "zero chapters reports zero",
			chapter: 1, pagePercent: 50, chapterCount: 0,
			want: 0,
		},
		{
			name:    "chapter below one clamps to the first chapter",
			chapter: 0, pagePercent: 50, chapterCount: 2,
			want: 25,
		},
		{
			name:    "negative page percent clamps to the chapter start",
			chapter: 2, pagePercent: -10, chapterCount: 4,
			want: 25,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := progress.ComputePercent(test.chapter, test.pagePercent, test.fingerprint, test.chapterCount)
			assert.InDelta(t, test.want, got, 0.0001)
		})
	}
}

// ── Position Updates ─────────────────────────────────────────────────────────

func TestUpdate_RoundTrip(t *testing.T) {
	h := newHarness(2)
	ctx := context.Background()

	updated, err := h.service.Update(ctx, testUserID, testBookID, progress.UpdateInput{
		CurrentChapter:     2,
		CurrentPagePercent: 45,
		ReadingTimeMinutes: 12,
	})
	require.NoError(t, err)
	assert.InDelta(t, 72.5, updated.ReadingPercent, 0.0001)
	assert.False(t, updated.LastReadAt.IsZero())

	got, err := h.service.Get(ctx, testUserID, testBookID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentChapter)
	assert.InDelta(t, 45, got.CurrentPagePercent, 0.0001)
	assert.Equal(t, 12, got.ReadingTimeMinutes)

	assert.True(t, h.cache.sawPattern(cache.UserBooksPattern(testUserID)),
		"position reports must invalidate the cached book list")
}

func TestUpdate_Validation(t *testing.T) {
	h := newHarness(5)
	ctx := context.Background()

	tests := []struct {
		name  string
		input progress.UpdateInput
	}{
		{"chapter below one", progress.UpdateInput{CurrentChapter: 0, CurrentPagePercent: 10}},
		{"page percent above 100", progress.UpdateInput{CurrentChapter: 1, CurrentPagePercent: 150}},
		{"negative scroll offset", progress.UpdateInput{CurrentChapter: 1, ScrollOffsetPercent: -5}},
		{"oversized fingerprint", progress.UpdateInput{
			CurrentChapter:      1,
			LocationFingerprint: strings.Repeat("x", 501),
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := h.service.Update(ctx, testUserID, testBookID, test.input)
			require.Error(t, err)
			appErr := apperr.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
		})
	}
}

func TestUpdate_ChapterBeyondCountReportsFinished(t *testing.T) {
	h := newHarness(4)

	// The book shrank on re-upload; the stale position still reads as done.
	updated, err := h.service.Update(context.Background(), testUserID, testBookID, progress.UpdateInput{
		CurrentChapter:     9,
		CurrentPagePercent: 10,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, updated.ReadingPercent, 0.0001)
}

func TestUpdate_FingerprintOverridesChapterMath(t *testing.T) {
	h := newHarness(10)

	updated, err := h.service.Update(context.Background(), testUserID, testBookID, progress.UpdateInput{
		CurrentChapter:      3,
		CurrentPagePercent:  81.25,
		LocationFingerprint: "epubcfi(/6/14!/4/2/1:0)",
	})
	require.NoError(t, err)
	assert.InDelta(t, 81.25, updated.ReadingPercent, 0.0001)
}

func TestGet_NotFoundBeforeFirstReport(t *testing.T) {
	h := newHarness(3)

	_, err := h.service.Get(context.Background(), testUserID, testBookID)
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestUpdate_CrossOwnerBookLooksMissing(t *testing.T) {
	h := newHarness(3)

	_, err := h.service.Update(context.Background(), "someone-else", testBookID, progress.UpdateInput{
		CurrentChapter: 1,
	})
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "book_not_found", appErr.Code)
}

// ── Reading Sessions ─────────────────────────────────────────────────────────

func TestSessions_StartClosesPreviousActive(t *testing.T) {
	h := newHarness(3)
	ctx := context.Background()

	first, err := h.service.StartSession(ctx, testUserID, testBookID, "chapter-1")
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	second, err := h.service.StartSession(ctx, testUserID, testBookID, "chapter-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 1, h.sessions.activeCount(testUserID, testBookID),
		"starting a new session must close the previous one")
}

func TestSessions_EndClosesAndStamps(t *testing.T) {
	h := newHarness(3)
	ctx := context.Background()

	_, err := h.service.StartSession(ctx, testUserID, testBookID, "chapter-1")
	require.NoError(t, err)

	ended, err := h.service.EndSession(ctx, testUserID, testBookID, "chapter-3")
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	assert.Equal(t, "chapter-3", ended.EndPosition)
	require.NotNil(t, ended.EndedAt)

	assert.Equal(t, 0, h.sessions.activeCount(testUserID, testBookID))
}

func TestSessions_EndWithoutActiveFails(t *testing.T) {
	h := newHarness(3)

	_, err := h.service.EndSession(context.Background(), testUserID, testBookID, "anywhere")
	require.Error(t, err)
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}
