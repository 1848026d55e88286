// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package description

import "context"

// # Repository Contract

// Repository defines data access for extracted descriptions.
type Repository interface {
	// CreateAll inserts the filtered extraction results of one chapter in a
	// single transaction.
	CreateAll(ctx context.Context, descriptions []Description) error

	// FindByID retrieves one description.
	//
	// Returns [apperr.NotFound] with code description_not_found when absent.
	FindByID(ctx context.Context, descriptionID string) (*Description, error)

	// ListByChapter returns the descriptions of one chapter ordered by their
	// position in the prose.
	ListByChapter(ctx context.Context, chapterID string) ([]Description, error)

	// ListPendingImages returns the top-limit descriptions of a book that
	// have no generated image yet, ordered by priority score descending.
	ListPendingImages(ctx context.Context, bookID string, limit int) ([]Description, error)
}
