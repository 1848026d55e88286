// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/flags"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/sec"
	"github.com/fablio/fablio/pkg/pointer"
)

// persistTimeout bounds the database mirror writes issued from job
// goroutines. These use a detached context so terminal states are flushed
// even while the process is shutting down.
const persistTimeout = 5 * time.Second

// FlagChecker answers the parsing kill switch.
type FlagChecker interface {
	IsEnabled(ctx context.Context, name string, fallback bool) bool
}

// Coordinator is the parsing queue and progress coordinator.
//
// It owns admission control (at most maxConcurrent books processing at
// once), the priority queue of waiting books, the per-book single-flight
// lease lock, and the derived status registry. Submissions never block: a
// book either starts immediately or is queued, and the caller gets the
// resulting view either way.
type Coordinator struct {
	books  book.BookRepository
	lock   Locker
	runner Runner
	flags  FlagChecker
	logger *slog.Logger

	maxConcurrent int

	mu         sync.Mutex
	queue      *jobQueue
	jobs       map[string]*jobState
	processing int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator constructs the coordinator. Call [Coordinator.StartReaper]
// after wiring and [Coordinator.Close] on shutdown.
func NewCoordinator(
	books book.BookRepository,
	lock Locker,
	runner Runner,
	flagSource FlagChecker,
	maxConcurrent int,
	logger *slog.Logger,
) *Coordinator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		books:         books,
		lock:          lock,
		runner:        runner,
		flags:         flagSource,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		queue:         newJobQueue(),
		jobs:          make(map[string]*jobState),
		baseCtx:       baseCtx,
		stop:          stop,
	}
}

// # Submission

/*
Submit requests description extraction for a book.

Idempotent for live jobs: a book already queued or processing returns its
current view with the matching condition flag instead of a second execution.
A book that already finished parsing returns a completed view without
touching the queue.

Admission: when a processing slot is free and the book's lease lock is
acquired, the run starts immediately. Otherwise the book is queued by
subscription priority (larger wins), FIFO within a priority, book ID bytes
as the final tiebreak.
*/
func (c *Coordinator) Submit(ctx context.Context, userID, bookID string, tier sec.SubscriptionTier) (*StatusView, error) {
	if !c.flags.IsEnabled(ctx, flags.FlagParsingEnabled, true) {
		return nil, apperr.ServiceUnavailable("Book parsing is temporarily disabled").
			WithCode("parsing_disabled")
	}

	owned, err := c.books.FindByID(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	if owned.IsParsed {
		return &StatusView{
			BookID:   bookID,
			Status:   StatusCompleted,
			Progress: 100,
			Message:  "Book is already parsed",
		}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state, live := c.jobs[bookID]; live && !state.terminal() {
		view := state.view()
		switch state.status {
		case StatusQueued:
			view.Condition = "already_queued"
			c.fillQueuePlacement(view)
		case StatusProcessing:
			view.Condition = "already_processing"
		}
		return view, nil
	}

	// A free slot is only worth taking if the cross-instance lease is ours.
	// A Redis failure here degrades to queueing rather than refusing the
	// submission.
	if c.processing < c.maxConcurrent {
		acquired, lockErr := c.lock.TryAcquire(ctx, bookID, userID)
		if lockErr != nil {
			c.logger.Warn("parse_lock_unavailable_queueing",
				slog.String("book_id", bookID),
				slog.Any("error", lockErr),
			)
		} else if acquired {
			state := c.startLocked(bookID, userID)
			return state.view(), nil
		}
	}

	c.queue.Push(bookID, userID, tier.QueuePriority())
	state := &jobState{
		bookID:   bookID,
		userID:   userID,
		status:   StatusQueued,
		message:  "Waiting in the parsing queue",
		priority: tier.QueuePriority(),
	}
	c.jobs[bookID] = state

	view := state.view()
	c.fillQueuePlacement(view)

	c.logger.Info("parse_job_queued",
		slog.String("book_id", bookID),
		slog.Int("priority", state.priority),
		slog.Int("position", view.Position),
	)
	return view, nil
}

// fillQueuePlacement populates the queue-only view fields. Caller holds mu.
func (c *Coordinator) fillQueuePlacement(view *StatusView) {
	view.Position = c.queue.Position(view.BookID)
	view.TotalInQueue = c.queue.Len()
	view.EstimatedWaitSeconds = view.Position * constants.AverageParseSeconds
}

// startLocked transitions a book to processing and spawns its run goroutine.
// Caller holds mu and the book's lease lock.
func (c *Coordinator) startLocked(bookID, userID string) *jobState {
	runCtx, cancel := context.WithCancel(c.baseCtx)

	state := c.jobs[bookID]
	if state == nil {
		state = &jobState{bookID: bookID, userID: userID}
		c.jobs[bookID] = state
	}
	state.status = StatusProcessing
	state.progress = 0
	state.message = "Starting book parsing…"
	state.descriptionsFound = 0
	state.failure = ""
	state.cancel = cancel

	c.processing++
	c.wg.Add(1)
	go c.run(runCtx, bookID, userID)

	c.logger.Info("parse_job_started",
		slog.String("book_id", bookID),
		slog.String("user_id", userID),
		slog.Int("processing", c.processing),
	)
	return state
}

// run is the lifetime of one processing job.
func (c *Coordinator) run(ctx context.Context, bookID, userID string) {
	defer c.wg.Done()

	c.persist(bookID, 0, false, nil)

	err := c.runner.Run(ctx, bookID, userID, func(progress int, message string, descriptionsFound int) {
		c.ProgressUpdate(bookID, progress, message, descriptionsFound)
	})

	switch {
	case err == nil:
		c.Complete(bookID)
	case errors.Is(err, context.Canceled):
		c.Fail(bookID, "cancelled")
	default:
		c.Fail(bookID, err.Error())
	}
}

// # Progress

// ProgressUpdate records forward movement of a processing job. Progress is
// clamped to [0,100] and monotonic within a run; a stale (lower) value is a
// no-op. The books table mirrors every accepted update so status survives a
// restart.
func (c *Coordinator) ProgressUpdate(bookID string, progress int, message string, descriptionsFound int) {
	progress = clampProgress(progress)

	c.mu.Lock()
	state := c.jobs[bookID]
	if state == nil || state.status != StatusProcessing || progress < state.progress {
		c.mu.Unlock()
		return
	}
	state.progress = progress
	if message != "" {
		state.message = message
	}
	state.descriptionsFound = descriptionsFound
	c.mu.Unlock()

	c.persist(bookID, progress, false, nil)
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

// # Terminal Transitions

// Complete marks a processing job finished, releases its lease, and admits
// the best queued entry. Idempotent: a job already terminal (or unknown) is
// a no-op.
func (c *Coordinator) Complete(bookID string) {
	c.finish(bookID, StatusCompleted, "")
}

// Fail marks a processing job failed with a reason, releases its lease, and
// admits the best queued entry. Idempotent like [Coordinator.Complete].
func (c *Coordinator) Fail(bookID, reason string) {
	c.finish(bookID, StatusFailed, reason)
}

func (c *Coordinator) finish(bookID string, terminal Status, reason string) {
	c.mu.Lock()
	state := c.jobs[bookID]
	if state == nil || state.status != StatusProcessing {
		c.mu.Unlock()
		return
	}

	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}

	state.status = terminal
	if terminal == StatusCompleted {
		state.progress = 100
		state.message = "Parsing completed"
	} else {
		state.failure = reason
		state.message = "Parsing failed"
	}
	ownerID := state.userID
	finalProgress := state.progress
	c.processing--
	c.mu.Unlock()

	if terminal == StatusCompleted {
		c.persist(bookID, 100, true, nil)
		c.logger.Info("parse_job_completed", slog.String("book_id", bookID))
	} else {
		c.persist(bookID, finalProgress, false, pointer.To(reason))
		c.logger.Warn("parse_job_failed",
			slog.String("book_id", bookID),
			slog.String("reason", reason),
		)
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.lock.Release(releaseCtx, bookID, ownerID); err != nil {
		c.logger.Warn("parse_lock_release_failed",
			slog.String("book_id", bookID),
			slog.Any("error", err),
		)
	}

	c.mu.Lock()
	c.promoteLocked(releaseCtx)
	c.mu.Unlock()
}

// promoteLocked admits queued entries while processing slots are free.
// Caller holds mu.
func (c *Coordinator) promoteLocked(ctx context.Context) {
	for c.processing < c.maxConcurrent {
		next := c.queue.Pop()
		if next == nil {
			return
		}

		acquired, err := c.lock.TryAcquire(ctx, next.bookID, next.userID)
		if err != nil || !acquired {
			// Another instance holds the lease, or Redis is down. Put the
			// entry back with its original enqueue time and retry on the
			// next completion or reaper tick.
			c.queue.Requeue(next)
			if err != nil {
				c.logger.Warn("parse_promotion_deferred",
					slog.String("book_id", next.bookID),
					slog.Any("error", err),
				)
			}
			return
		}

		c.startLocked(next.bookID, next.userID)
	}
}

// persist mirrors job state onto the book row. Failures are logged, never
// propagated: the registry stays authoritative for live jobs.
func (c *Coordinator) persist(bookID string, progress int, isParsed bool, parseErr *string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.books.SetParsingState(ctx, bookID, progress, isParsed, parseErr); err != nil {
		c.logger.Warn("parse_state_mirror_failed",
			slog.String("book_id", bookID),
			slog.Any("error", err),
		)
	}
}

// # Cancellation

// Cancel withdraws a live parse job. A queued book leaves the queue
// immediately; a processing book is cancelled cooperatively and fails with
// reason "cancelled" at its next chapter boundary.
func (c *Coordinator) Cancel(ctx context.Context, userID, bookID string) error {
	if _, err := c.books.FindByID(ctx, userID, bookID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.jobs[bookID]
	if state == nil || state.terminal() {
		return apperr.NotFound("Parse job")
	}

	switch state.status {
	case StatusQueued:
		c.queue.Remove(bookID)
		delete(c.jobs, bookID)
		c.logger.Info("parse_job_cancelled", slog.String("book_id", bookID))
	case StatusProcessing:
		if state.cancel != nil {
			state.cancel()
		}
		c.logger.Info("parse_job_cancel_requested", slog.String("book_id", bookID))
	}
	return nil
}

// # Status

// GetStatus returns the derived parsing view for a book: the in-memory
// registry when the job is live or recently finished, otherwise a view
// derived from the persisted book fields. A restart therefore reports former
// processing books as not_started with their last mirrored progress.
func (c *Coordinator) GetStatus(ctx context.Context, userID, bookID string) (*StatusView, error) {
	owned, err := c.books.FindByID(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if state, tracked := c.jobs[bookID]; tracked {
		view := state.view()
		if state.status == StatusQueued {
			c.fillQueuePlacement(view)
		}
		c.mu.Unlock()
		return view, nil
	}
	c.mu.Unlock()

	switch {
	case owned.IsParsed:
		return &StatusView{BookID: bookID, Status: StatusCompleted, Progress: 100}, nil
	case owned.ParsingError != nil:
		return &StatusView{
			BookID:   bookID,
			Status:   StatusFailed,
			Progress: owned.ParsingProgress,
			Error:    *owned.ParsingError,
		}, nil
	default:
		return &StatusView{
			BookID:   bookID,
			Status:   StatusNotStarted,
			Progress: owned.ParsingProgress,
		}, nil
	}
}

// # Lease Reaper

// Reap fails every processing job whose lease lock has silently expired,
// freeing its slot. It returns how many jobs were reaped. The periodic
// reaper calls this; tests may call it directly.
func (c *Coordinator) Reap(ctx context.Context) int {
	c.mu.Lock()
	candidates := make([]string, 0, c.processing)
	for bookID, state := range c.jobs {
		if state.status == StatusProcessing {
			candidates = append(candidates, bookID)
		}
	}
	c.mu.Unlock()

	reaped := 0
	for _, bookID := range candidates {
		held, err := c.lock.Held(ctx, bookID)
		if err != nil {
			c.logger.Warn("parse_reaper_check_failed",
				slog.String("book_id", bookID),
				slog.Any("error", err),
			)
			continue
		}
		if held {
			continue
		}

		c.logger.Warn("parse_lease_expired", slog.String("book_id", bookID))
		c.Fail(bookID, "parse lease expired")
		reaped++
	}
	return reaped
}

// StartReaper runs [Coordinator.Reap] on the given interval until Close.
func (c *Coordinator) StartReaper(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.baseCtx.Done():
				return
			case <-ticker.C:
				c.Reap(c.baseCtx)
			}
		}
	}()
}

// # Lifecycle

// Close cancels every live run and waits for the goroutines to drain.
// Processing books keep their mirrored progress and are recoverable by a
// fresh Submit after restart.
func (c *Coordinator) Close() error {
	c.stop()
	c.wg.Wait()
	return nil
}

// Snapshot reports the coordinator's occupancy for health and admin views.
func (c *Coordinator) Snapshot() (processing, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing, c.queue.Len()
}
