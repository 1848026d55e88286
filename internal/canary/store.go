// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package canary

import "context"

// Repository defines the data access contract for the stage audit log.
//
// The log is append-only: records are never updated or deleted, and the
// monotonic ID sequence serializes stage transitions.
type Repository interface {
	// Append persists a new stage record and fills in its assigned ID and
	// commit timestamp.
	Append(ctx context.Context, record *StageRecord) error

	// Latest returns the most recent stage record.
	//
	// Returns [apperr.NotFound] when the history is empty (fresh install).
	Latest(ctx context.Context) (*StageRecord, error)

	// History returns records most-recent-first, bounded by limit
	// (limit <= 0 means no bound).
	History(ctx context.Context, limit int) ([]StageRecord, error)
}
