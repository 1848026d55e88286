// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package description extracts and stores visual scene descriptions from
chapter prose.

# Pipeline Position

The package is the driver between the parsing coordinator and the LLM
extractor adapter: the coordinator decides WHEN a book is processed, this
package decides WHAT happens per chapter — skip already-parsed chapters,
invoke the extractor, filter and dedup the candidates, persist the
survivors, and mark the chapter done. Extraction results are immutable once
written; a chapter is never re-extracted.
*/
package description

import (
	"strings"
	"time"
)

// Type classifies what a description depicts.
type Type string

const (
	TypeLocation   Type = "location"
	TypeCharacter  Type = "character"
	TypeAtmosphere Type = "atmosphere"
)

// IsValid reports whether the extractor returned a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLocation, TypeCharacter, TypeAtmosphere:
		return true
	}
	return false
}

// Description is one extracted visual passage, persisted per chapter.
type Description struct {
	ID        string `json:"id"`
	BookID    string `json:"book_id"`
	ChapterID string `json:"chapter_id"`

	Type    Type   `json:"type"`
	Content string `json:"content"`
	Context string `json:"context,omitempty"`

	// ConfidenceScore is the extractor's certainty the passage is genuinely
	// visual; candidates below the configured floor are dropped.
	ConfidenceScore float64 `json:"confidence_score"`

	// PriorityScore ranks descriptions for image generation; batch runs take
	// the top-K by this value.
	PriorityScore float64 `json:"priority_score"`

	PositionInChapter int      `json:"position_in_chapter"`
	WordCount         int      `json:"word_count"`
	EntitiesMentioned []string `json:"entities_mentioned,omitempty"` // JSONB

	CreatedAt time.Time `json:"created_at"`
}

// Candidate is one raw extractor result before filtering and persistence.
type Candidate struct {
	Type              Type     `json:"type"`
	Content           string   `json:"content"`
	Context           string   `json:"context"`
	ConfidenceScore   float64  `json:"confidence_score"`
	PriorityScore     float64  `json:"priority_score"`
	PositionInChapter int      `json:"position_in_chapter"`
	WordCount         int      `json:"word_count"`
	EntitiesMentioned []string `json:"entities_mentioned"`
}

// dedupKeyLength bounds the normalized-content prefix used for duplicate
// detection across chunk boundaries.
const dedupKeyLength = 120

// DedupKey normalizes content for duplicate detection: lowercase, collapsed
// whitespace, first 120 characters. Chunk overlap makes near-identical
// passages common, and the key treats them as one.
func DedupKey(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if len(normalized) > dedupKeyLength {
		normalized = normalized[:dedupKeyLength]
	}
	return normalized
}
