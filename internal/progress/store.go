// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package progress

import "context"

// # Repository Contracts

// ProgressRepository defines data access for reading positions.
type ProgressRepository interface {
	// Upsert inserts or replaces the (user, book) progress row.
	Upsert(ctx context.Context, progress *ReadingProgress) error

	// Find retrieves the progress row for one (user, book) pair.
	//
	// Returns [apperr.NotFound] when the user has not started the book.
	Find(ctx context.Context, userID, bookID string) (*ReadingProgress, error)

	// Delete removes the progress row for one (user, book) pair. Missing
	// rows are not an error.
	Delete(ctx context.Context, userID, bookID string) error
}

// SessionRepository defines data access for reading sessions.
type SessionRepository interface {
	// Create persists a new session row.
	Create(ctx context.Context, session *ReadingSession) error

	// FindActive retrieves the active session for one (user, book) pair.
	//
	// Returns [apperr.NotFound] when no session is active.
	FindActive(ctx context.Context, userID, bookID string) (*ReadingSession, error)

	// CloseActive ends every active session of the pair (there is at most
	// one by invariant), stamping the end time, duration, and end position.
	// Returns the number of sessions closed.
	CloseActive(ctx context.Context, userID, bookID, endPosition string) (int, error)
}
