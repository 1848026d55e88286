// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package flags

import "context"

// Repository defines the data access contract for feature flags.
//
// # Implementations
//
// The canonical implementation for Fablio is PostgreSQL (store_postgres.go).
// Tests use an in-memory fake.
type Repository interface {
	// FindByName returns the flag with the given unique name.
	//
	// Returns [apperr.NotFound] (code flag_not_found) when no row exists.
	FindByName(ctx context.Context, name string) (*Flag, error)

	// List returns every flag ordered by name.
	List(ctx context.Context) ([]Flag, error)

	// Upsert inserts the flag or updates its enabled state when the name
	// already exists.
	Upsert(ctx context.Context, flag *Flag) error

	// InsertIfAbsent inserts the flag only when no row with its name exists.
	// Reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, flag *Flag) (bool, error)
}
