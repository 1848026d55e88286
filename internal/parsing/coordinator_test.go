// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/parsing"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/sec"
)

// ── Fakes ───────────────────────────────────────────────────────────────────

type fakeBooks struct {
	mu   sync.Mutex
	rows map[string]*book.Book
}

func newFakeBooks(books ...*book.Book) *fakeBooks {
	rows := make(map[string]*book.Book, len(books))
	for _, row := range books {
		rows[row.ID] = row
	}
	return &fakeBooks{rows: rows}
}

func (b *fakeBooks) FindByID(_ context.Context, ownerID, bookID string) (*book.Book, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, exists := b.rows[bookID]
	if !exists || row.OwnerUserID != ownerID {
		return nil, apperr.NotFound("Book").WithCode("book_not_found")
	}
	snapshot := *row
	return &snapshot, nil
}

func (b *fakeBooks) SetParsingState(_ context.Context, bookID string, progress int, isParsed bool, parsingError *string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, exists := b.rows[bookID]
	if !exists {
		return apperr.NotFound("Book").WithCode("book_not_found")
	}
	row.ParsingProgress = progress
	row.IsParsed = isParsed
	row.ParsingError = parsingError
	return nil
}

func (b *fakeBooks) Create(context.Context, *book.Book) error { return nil }

func (b *fakeBooks) List(context.Context, string, book.ListOptions) ([]book.Summary, int, error) {
	return nil, 0, nil
}

func (b *fakeBooks) Delete(context.Context, string, string) ([]string, error) { return nil, nil }

func (b *fakeBooks) TouchLastAccessed(context.Context, string) error { return nil }

type fakeLock struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]string)}
}

func (l *fakeLock) TryAcquire(_ context.Context, bookID, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[bookID]; taken {
		return false, nil
	}
	l.held[bookID] = ownerID
	return true, nil
}

func (l *fakeLock) Release(_ context.Context, bookID, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[bookID] == ownerID {
		delete(l.held, bookID)
	}
	return nil
}

func (l *fakeLock) Held(_ context.Context, bookID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[bookID]
	return taken, nil
}

// expire simulates a lease running out behind the holder's back.
func (l *fakeLock) expire(bookID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, bookID)
}

// fakeRunner blocks every run until the test releases it via proceed, so the
// test controls exactly when jobs finish.
type fakeRunner struct {
	started chan string
	proceed chan struct{}

	mu   sync.Mutex
	fail map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan string, 16),
		proceed: make(chan struct{}, 16),
		fail:    make(map[string]error),
	}
}

func (r *fakeRunner) failWith(bookID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[bookID] = err
}

func (r *fakeRunner) Run(ctx context.Context, bookID, _ string, report func(progress int, message string, descriptionsFound int)) error {
	r.started <- bookID

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.proceed:
	}

	r.mu.Lock()
	err := r.fail[bookID]
	r.mu.Unlock()
	if err != nil {
		return err
	}

	report(100, "done", 3)
	return nil
}

type fakeFlagSource struct {
	parsingOff bool
}

func (f *fakeFlagSource) IsEnabled(_ context.Context, _ string, fallback bool) bool {
	if f.parsingOff {
		return false
	}
	return fallback
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func testBook(id, owner string) *book.Book {
	return &book.Book{ID: id, OwnerUserID: owner, Title: "Book " + id}
}

func waitStarted(t *testing.T, runner *fakeRunner, want string) {
	t.Helper()
	select {
	case got := <-runner.started:
		require.Equal(t, want, got, "unexpected book started")
	case <-time.After(2 * time.Second):
		t.Fatalf("book %s never started", want)
	}
}

func waitStatus(t *testing.T, coordinator *parsing.Coordinator, userID, bookID string, want parsing.Status) *parsing.StatusView {
	t.Helper()
	var view *parsing.StatusView
	require.Eventually(t, func() bool {
		current, err := coordinator.GetStatus(context.Background(), userID, bookID)
		if err != nil {
			return false
		}
		view = current
		return current.Status == want
	}, 2*time.Second, 5*time.Millisecond, "book %s never reached %s", bookID, want)
	return view
}

func newCoordinator(t *testing.T, books *fakeBooks, runner *fakeRunner, maxConcurrent int) (*parsing.Coordinator, *fakeLock) {
	t.Helper()
	lock := newFakeLock()
	coordinator := parsing.NewCoordinator(
		books, lock, runner, &fakeFlagSource{}, maxConcurrent,
		slog.New(slog.DiscardHandler),
	)
	t.Cleanup(func() { _ = coordinator.Close() })
	return coordinator, lock
}

// ── Admission and queue ordering ────────────────────────────────────────────

func TestSubmit_ImmediateStartWhenSlotFree(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, lock := newCoordinator(t, books, runner, 1)

	view, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusProcessing, view.Status)
	assert.Empty(t, view.Condition)

	waitStarted(t, runner, "b1")

	held, _ := lock.Held(context.Background(), "b1")
	assert.True(t, held, "processing job must hold its lease")
}

func TestSubmit_PriorityOrdering(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(
		testBook("blocker", "u1"),
		testBook("b1", "u1"),
		testBook("b2", "u1"),
		testBook("b3", "u1"),
	)
	coordinator, _ := newCoordinator(t, books, runner, 1)

	// Occupy the single slot, then queue: free, premium, free.
	_, err := coordinator.Submit(context.Background(), "u1", "blocker", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "blocker")

	for _, submission := range []struct {
		bookID string
		tier   sec.SubscriptionTier
	}{
		{"b1", sec.TierFree},
		{"b2", sec.TierPremium},
		{"b3", sec.TierFree},
	} {
		view, err := coordinator.Submit(context.Background(), "u1", submission.bookID, submission.tier)
		require.NoError(t, err)
		assert.Equal(t, parsing.StatusQueued, view.Status, submission.bookID)
	}

	// Premium jumps the earlier free submission.
	view, err := coordinator.GetStatus(context.Background(), "u1", "b2")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Position)
	assert.Equal(t, 3, view.TotalInQueue)
	assert.Greater(t, view.EstimatedWaitSeconds, 0)

	runner.proceed <- struct{}{}
	waitStarted(t, runner, "b2")

	// Equal priority: earlier enqueue time wins the tie.
	runner.proceed <- struct{}{}
	waitStarted(t, runner, "b1")

	runner.proceed <- struct{}{}
	waitStarted(t, runner, "b3")

	runner.proceed <- struct{}{}
	waitStatus(t, coordinator, "u1", "b3", parsing.StatusCompleted)
}

func TestSubmit_AdmissionBound(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"), testBook("b2", "u1"), testBook("b3", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 2)

	for _, bookID := range []string{"b1", "b2"} {
		view, err := coordinator.Submit(context.Background(), "u1", bookID, sec.TierFree)
		require.NoError(t, err)
		assert.Equal(t, parsing.StatusProcessing, view.Status)
		waitStarted(t, runner, bookID)
	}

	view, err := coordinator.Submit(context.Background(), "u1", "b3", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusQueued, view.Status)

	processing, queued := coordinator.Snapshot()
	assert.Equal(t, 2, processing)
	assert.Equal(t, 1, queued)
}

// ── Idempotent submission ───────────────────────────────────────────────────

func TestSubmit_IdempotentForLiveJobs(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"), testBook("b2", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	again, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusProcessing, again.Status)
	assert.Equal(t, "already_processing", again.Condition)

	queuedFirst, err := coordinator.Submit(context.Background(), "u1", "b2", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusQueued, queuedFirst.Status)
	assert.Empty(t, queuedFirst.Condition)

	queuedAgain, err := coordinator.Submit(context.Background(), "u1", "b2", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "already_queued", queuedAgain.Condition)
	assert.Equal(t, 1, queuedAgain.Position)
}

func TestSubmit_AlreadyParsedBook(t *testing.T) {
	parsed := testBook("b1", "u1")
	parsed.IsParsed = true
	parsed.ParsingProgress = 100

	coordinator, _ := newCoordinator(t, newFakeBooks(parsed), newFakeRunner(), 1)

	view, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
}

func TestSubmit_CrossOwnerIsNotFound(t *testing.T) {
	coordinator, _ := newCoordinator(t, newFakeBooks(testBook("b1", "u1")), newFakeRunner(), 1)

	_, err := coordinator.Submit(context.Background(), "intruder", "b1", sec.TierFree)
	require.Error(t, err)
	assert.Equal(t, "book_not_found", apperr.As(err).Code)
}

func TestSubmit_ParsingDisabledByFlag(t *testing.T) {
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator := parsing.NewCoordinator(
		books, newFakeLock(), newFakeRunner(), &fakeFlagSource{parsingOff: true}, 1,
		slog.New(slog.DiscardHandler),
	)
	t.Cleanup(func() { _ = coordinator.Close() })

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.Error(t, err)
	assert.Equal(t, "parsing_disabled", apperr.As(err).Code)
}

// ── Progress ────────────────────────────────────────────────────────────────

func TestProgressUpdate_ClampedAndMonotonic(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	coordinator.ProgressUpdate("b1", 40, "chapter 2 of 5", 7)
	view, err := coordinator.GetStatus(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 40, view.Progress)
	assert.Equal(t, 7, view.DescriptionsFound)

	// Stale update: full no-op.
	coordinator.ProgressUpdate("b1", 20, "rewound", 1)
	view, err = coordinator.GetStatus(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 40, view.Progress)
	assert.Equal(t, "chapter 2 of 5", view.Message)

	// Out-of-range values are clamped.
	coordinator.ProgressUpdate("b1", 150, "overshoot", 9)
	view, err = coordinator.GetStatus(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, 100, view.Progress)
}

func TestProgress_MirroredToBookRow(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	coordinator.ProgressUpdate("b1", 60, "", 2)

	books.mu.Lock()
	mirrored := books.rows["b1"].ParsingProgress
	books.mu.Unlock()
	assert.Equal(t, 60, mirrored)
}

// ── Terminal transitions ────────────────────────────────────────────────────

func TestComplete_PersistsAndReleasesLock(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, lock := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")
	runner.proceed <- struct{}{}

	view := waitStatus(t, coordinator, "u1", "b1", parsing.StatusCompleted)
	assert.Equal(t, 100, view.Progress)

	require.Eventually(t, func() bool {
		held, _ := lock.Held(context.Background(), "b1")
		return !held
	}, 2*time.Second, 5*time.Millisecond)

	books.mu.Lock()
	row := books.rows["b1"]
	books.mu.Unlock()
	assert.True(t, row.IsParsed)
	assert.Equal(t, 100, row.ParsingProgress)
	assert.Nil(t, row.ParsingError)
}

func TestFail_RecordsReasonAndFreesSlot(t *testing.T) {
	runner := newFakeRunner()
	runner.failWith("b1", errors.New("extractor kept failing"))
	books := newFakeBooks(testBook("b1", "u1"), testBook("b2", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	_, err = coordinator.Submit(context.Background(), "u1", "b2", sec.TierFree)
	require.NoError(t, err)

	runner.proceed <- struct{}{}

	view := waitStatus(t, coordinator, "u1", "b1", parsing.StatusFailed)
	assert.Equal(t, "extractor kept failing", view.Error)

	books.mu.Lock()
	row := books.rows["b1"]
	books.mu.Unlock()
	require.NotNil(t, row.ParsingError)
	assert.False(t, row.IsParsed)

	// The freed slot admits the queued book.
	waitStarted(t, runner, "b2")
}

func TestTerminalTransitions_Idempotent(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")
	runner.proceed <- struct{}{}
	waitStatus(t, coordinator, "u1", "b1", parsing.StatusCompleted)

	// A late Fail (or a second Complete) cannot flip a terminal state.
	coordinator.Fail("b1", "too late")
	coordinator.Complete("b1")

	view, err := coordinator.GetStatus(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusCompleted, view.Status)

	processing, _ := coordinator.Snapshot()
	assert.Equal(t, 0, processing)
}

// ── Cancellation ────────────────────────────────────────────────────────────

func TestCancel_QueuedJobLeavesTheQueue(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"), testBook("b2", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	_, err = coordinator.Submit(context.Background(), "u1", "b2", sec.TierFree)
	require.NoError(t, err)

	require.NoError(t, coordinator.Cancel(context.Background(), "u1", "b2"))

	view, err := coordinator.GetStatus(context.Background(), "u1", "b2")
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusNotStarted, view.Status)

	_, queued := coordinator.Snapshot()
	assert.Equal(t, 0, queued)
}

func TestCancel_ProcessingJobFailsCooperatively(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	require.NoError(t, coordinator.Cancel(context.Background(), "u1", "b1"))

	view := waitStatus(t, coordinator, "u1", "b1", parsing.StatusFailed)
	assert.Equal(t, "cancelled", view.Error)
}

func TestCancel_AbsentJobIsNotFound(t *testing.T) {
	coordinator, _ := newCoordinator(t, newFakeBooks(testBook("b1", "u1")), newFakeRunner(), 1)

	err := coordinator.Cancel(context.Background(), "u1", "b1")
	require.Error(t, err)
	assert.Equal(t, 404, apperr.As(err).HTTPStatus)
}

// ── Status fallback ─────────────────────────────────────────────────────────

func TestGetStatus_FallsBackToPersistedFields(t *testing.T) {
	failed := testBook("failed", "u1")
	reason := "parse lease expired"
	failed.ParsingError = &reason
	failed.ParsingProgress = 35

	fresh := testBook("fresh", "u1")

	coordinator, _ := newCoordinator(t, newFakeBooks(failed, fresh), newFakeRunner(), 1)

	view, err := coordinator.GetStatus(context.Background(), "u1", "failed")
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusFailed, view.Status)
	assert.Equal(t, reason, view.Error)
	assert.Equal(t, 35, view.Progress)

	view, err = coordinator.GetStatus(context.Background(), "u1", "fresh")
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusNotStarted, view.Status)
	assert.Equal(t, 0, view.Progress)
}

// ── Lease reaper ────────────────────────────────────────────────────────────

func TestReap_FailsJobsWithExpiredLeases(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, lock := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	lock.expire("b1")

	reaped := coordinator.Reap(context.Background())
	assert.Equal(t, 1, reaped)

	view := waitStatus(t, coordinator, "u1", "b1", parsing.StatusFailed)
	assert.Equal(t, "parse lease expired", view.Error)
}

func TestReap_LeavesHealthyJobsAlone(t *testing.T) {
	runner := newFakeRunner()
	books := newFakeBooks(testBook("b1", "u1"))
	coordinator, _ := newCoordinator(t, books, runner, 1)

	_, err := coordinator.Submit(context.Background(), "u1", "b1", sec.TierFree)
	require.NoError(t, err)
	waitStarted(t, runner, "b1")

	assert.Equal(t, 0, coordinator.Reap(context.Background()))

	view, err := coordinator.GetStatus(context.Background(), "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, parsing.StatusProcessing, view.Status)
}
