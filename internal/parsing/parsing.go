// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package parsing coordinates the description-extraction pipeline per book.

# State Machine

	absent → queued → processing → completed | failed

Queued jobs can be cancelled back to absent; processing jobs are cancelled
cooperatively at chapter boundaries. Exactly one execution per book is
guaranteed by a Redis lease lock, so multiple API instances sharing the
database never double-parse.

The in-memory registry is the fast path for status reads; the books table
mirrors progress so status survives restarts. A restart orphans former
processing jobs into a recoverable not_started, and the reaper marks jobs
whose lease silently expired as failed.
*/
package parsing

import "context"

// Status is the lifecycle position of a parse job.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StatusView is the externally visible snapshot of one book's parse job.
type StatusView struct {
	BookID            string `json:"book_id"`
	Status            Status `json:"status"`
	Progress          int    `json:"progress"`
	Message           string `json:"message,omitempty"`
	DescriptionsFound int    `json:"descriptions_found"`
	Error             string `json:"error,omitempty"`

	// Condition flags idempotent submissions: already_queued or
	// already_processing.
	Condition string `json:"condition,omitempty"`

	// Queue placement, populated only while queued.
	Position             int `json:"position,omitempty"`
	TotalInQueue         int `json:"total_in_queue,omitempty"`
	EstimatedWaitSeconds int `json:"estimated_wait_seconds,omitempty"`
}

// Runner is the execution body of one parse job, injected at wire time. It
// reports progress through the callback and returns only when the book is
// done or the context is cancelled.
type Runner interface {
	Run(ctx context.Context, bookID, userID string, report func(progress int, message string, descriptionsFound int)) error
}

// Locker serializes parse executions across instances.
type Locker interface {
	// TryAcquire takes the book's lease for ownerID without blocking.
	TryAcquire(ctx context.Context, bookID, ownerID string) (bool, error)

	// Release frees the lease, but only when ownerID still holds it.
	Release(ctx context.Context, bookID, ownerID string) error

	// Held reports whether any owner currently holds the book's lease.
	Held(ctx context.Context, bookID string) (bool, error)
}
