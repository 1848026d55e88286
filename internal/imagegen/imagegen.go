// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package imagegen turns stored descriptions into AI-generated illustrations.

Generation is idempotent per description: the first successful run persists a
GeneratedImage row and later requests return it instead of calling the
generator again. Batch runs pick the highest-priority descriptions that have
no image yet and process them with bounded concurrency, each item succeeding
or failing on its own.
*/
package imagegen

import (
	"context"
	"time"
)

// GeneratedImage is one persisted illustration for a description.
type GeneratedImage struct {
	ID            string `json:"id"`
	DescriptionID string `json:"description_id"`
	BookID        string `json:"book_id"`

	// UserID is the owner who requested the generation.
	UserID string `json:"user_id"`

	// Prompt is the full text sent to the generator, kept for reproducibility.
	Prompt string `json:"prompt"`

	// LocalPath is the storage-relative path of the PNG; nil when the bytes
	// were never written (generation succeeded but persistence did not).
	LocalPath *string `json:"local_path,omitempty"`

	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`

	// GenerationTimeSeconds is the wall-clock duration of the model call.
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`

	CreatedAt time.Time `json:"created_at"`
}

// GeneratedAsset is the raw generator output before persistence.
type GeneratedAsset struct {
	ImageBytes  []byte
	ContentType string
	Width       int
	Height      int
}

// Generator is the image-model adapter boundary.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*GeneratedAsset, error)
}

// Translator renders non-English description content into English prompt
// text. Implementations may skip input that is already mostly ASCII.
type Translator interface {
	TranslateToEnglish(ctx context.Context, text string) (string, error)
}

// FlagChecker resolves feature flags; implemented by the flags service.
type FlagChecker interface {
	IsEnabled(ctx context.Context, name string, fallback bool) bool
}
