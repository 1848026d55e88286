// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package imagegen

import "context"

// # Repository Contract

// Repository defines data access for generated images.
type Repository interface {
	// Create persists a new image row.
	Create(ctx context.Context, image *GeneratedImage) error

	// FindByDescription retrieves the image generated for one description.
	//
	// Returns [apperr.NotFound] with code image_not_found when none exists.
	FindByDescription(ctx context.Context, descriptionID string) (*GeneratedImage, error)

	// ListByBook returns every image of a book, newest first.
	ListByBook(ctx context.Context, bookID string) ([]GeneratedImage, error)
}
