// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package progress persists where each reader is inside each book.

Two entities cooperate:

  - ReadingProgress: one row per (user, book), upserted on every position
    report. It carries the chapter/page position, an opaque location
    fingerprint for exact restoration, and the derived overall percentage.
  - ReadingSession: a start/end pair used for reading-time analytics. At most
    one session is active per (user, book); starting a new one closes the
    previous.

# Percentage Model

The overall reading percentage is computed at write time and stored, so list
queries never recompute it. With a location fingerprint present the reported
page percent is authoritative; without one the legacy chapter-linear formula
applies: chapters contribute uniformly, position inside the current chapter
interpolates within its share.
*/
package progress

import "time"

// ReadingProgress is the persisted reading position of one user in one book.
type ReadingProgress struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`

	CurrentChapter     int     `json:"current_chapter"`
	CurrentPagePercent float64 `json:"current_page_percent"` // within the chapter, [0,100]

	// LocationFingerprint is an opaque reader-side position token. When
	// present it is authoritative for restoration and CurrentPagePercent is
	// read as the overall percentage.
	LocationFingerprint string `json:"location_fingerprint,omitempty"`

	ScrollOffsetPercent float64 `json:"scroll_offset_percent"`
	ReadingTimeMinutes  int     `json:"reading_time_minutes"`

	// ReadingPercent is the derived overall percentage, computed at write
	// time (see ComputePercent) and stored for eager list loading.
	ReadingPercent float64 `json:"reading_percent"`

	LastReadAt time.Time `json:"last_read_at"`
}

// ReadingSession is one reading sitting, bounded by Start and End.
//
// Invariant: IsActive ⇔ EndedAt == nil; at most one active session exists
// per (user, book).
type ReadingSession struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	StartPosition   string     `json:"start_position"`
	EndPosition     string     `json:"end_position"`
	IsActive        bool       `json:"is_active"`
}

/*
ComputePercent derives the overall reading percentage.

Fingerprint mode: the reported page percent already is the overall
percentage. Legacy mode: chapters contribute uniformly, so chapter k of N
spans [(k-1)/N, k/N) and the page percent interpolates inside that span.

Edge cases follow the product decisions: a chapter number beyond N clamps to
100 (the reader finished and the book shrank on re-parse), and a book with
zero chapters reports 0.
*/
func ComputePercent(currentChapter int, pagePercent float64, fingerprint string, chapterCount int) float64 {
	if fingerprint != "" {
		return clampPercent(pagePercent)
	}

	if chapterCount == 0 {
		return 0
	}
	if currentChapter > chapterCount {
		return 100
	}
	if currentChapter < 1 {
		currentChapter = 1
	}

	n := float64(chapterCount)
	completed := float64(currentChapter-1) / n * 100
	within := clampPercent(pagePercent) / 100 * (1 / n) * 100

	return clampPercent(completed + within)
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
