// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package book defines the core domain entities of the Fablio library.

It manages the lifecycle of uploaded publications (EPUB, FB2) including
metadata, chapter organization, and the derived reading metrics exposed to the
reader clients.

Core Responsibility:

  - Library: Owner-scoped storage and retrieval of books and their chapters.
  - Ingestion: Upload validation, file persistence, and structural parsing.
  - Metrics: Page and reading-time estimates derived from word counts.

Every book is exclusively owned by the uploading user. Cross-owner reads
resolve to not-found rather than forbidden so book IDs cannot be enumerated.
*/
package book

import (
	"context"
	"time"
)

// # Domain Enums

// Genre classifies a book for prompt styling and discovery.
type Genre string

const (
	GenreFantasy    Genre = "fantasy"
	GenreDetective  Genre = "detective"
	GenreRomance    Genre = "romance"
	GenreSciFi      Genre = "sci-fi"
	GenreHorror     Genre = "horror"
	GenreHistorical Genre = "historical"
	GenreAdventure  Genre = "adventure"

	// GenreOther is the default when no genre information is available.
	GenreOther Genre = "other"
)

// IsValid reports whether g is a recognised [Genre] value.
func (g Genre) IsValid() bool {
	switch g {
	case
		GenreFantasy,
		GenreDetective,
		GenreRomance,
		GenreSciFi,
		GenreHorror,
		GenreHistorical,
		GenreAdventure,
		GenreOther:
		return true
	}
	return false
}

// FileFormat identifies the container format of an uploaded book file.
type FileFormat string

const (
	FormatEPUB FileFormat = "epub"
	FormatFB2  FileFormat = "fb2"
)

// IsValid reports whether f is a supported [FileFormat] value.
func (f FileFormat) IsValid() bool {
	return f == FormatEPUB || f == FormatFB2
}

// # Core Entities

// Book is the central aggregate of the Fablio domain. It represents one
// uploaded publication and its parsed structure.
//
// Invariants: IsParsed implies ParsingProgress == 100 and ParsingError == nil;
// a non-nil ParsingError implies !IsParsed.
type Book struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Genre       Genre      `json:"genre"`
	Language    string     `json:"language"` // BCP-47 language tag (e.g. "en", "ru")
	FileFormat  FileFormat `json:"file_format"`
	FilePath    string     `json:"-"` // Relative to the storage root
	FileSize    int64      `json:"file_size"`
	CoverPath   string     `json:"-"` // Relative to the storage root; empty when absent

	// Metadata holds publisher/source key→value pairs extracted from the
	// container (identifier, publisher, series, ...). Stored as JSONB.
	Metadata map[string]string `json:"metadata,omitempty"`

	// # Derived Reading Metrics
	TotalChapters        int `json:"total_chapters"`
	TotalPages           int `json:"total_pages"`
	EstimatedReadMinutes int `json:"estimated_read_minutes"`

	// # Description-Pipeline State
	// Mirrored by the parsing coordinator so status survives restarts.
	IsParsed        bool    `json:"is_parsed"`
	ParsingProgress int     `json:"parsing_progress"`
	ParsingError    *string `json:"parsing_error,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// HasCover reports whether a cover image was extracted for the book.
func (b *Book) HasCover() bool { return b.CoverPath != "" }

// Chapter is one structural unit of a parsed book.
//
// Chapter numbers are 1-indexed and form a contiguous sequence 1..N within
// their book.
type Chapter struct {
	ID            string `json:"id"`
	BookID        string `json:"book_id"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Content       string `json:"content"`      // Plain text
	HTMLContent   string `json:"html_content"` // Rendered markup for the reader
	WordCount     int    `json:"word_count"`

	// # Description-Pipeline State
	IsDescriptionParsed bool `json:"is_description_parsed"`
	DescriptionsFound   int  `json:"descriptions_found"`

	CreatedAt time.Time `json:"created_at"`
}

// TOCEntry is the lightweight chapter listing served to readers. Content is
// deliberately excluded to keep the payload small and cacheable.
type TOCEntry struct {
	ChapterNumber       int    `json:"chapter_number"`
	Title               string `json:"title"`
	WordCount           int    `json:"word_count"`
	IsDescriptionParsed bool   `json:"is_description_parsed"`
}

// Summary is one row of the book list view: the book plus the aggregates the
// list screen renders, fetched eagerly in a single query.
type Summary struct {
	Book

	ChapterCount   int        `json:"chapter_count"`
	ReadingPercent *float64   `json:"reading_percent,omitempty"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
}

// # Parser Contract

// ParsedChapter is one chapter as produced by the structural file parser.
type ParsedChapter struct {
	Number      int
	Title       string
	Content     string
	HTMLContent string
	WordCount   int
}

// ParsedBook is the format-independent result of parsing an uploaded file.
type ParsedBook struct {
	Title    string
	Author   string
	Language string
	Metadata map[string]string
	Cover    []byte // JPEG bytes; nil when the container holds no cover
	Chapters []ParsedChapter
}

// TotalWords sums the word counts of all chapters.
func (p *ParsedBook) TotalWords() int {
	total := 0
	for _, chapter := range p.Chapters {
		total += chapter.WordCount
	}
	return total
}

// Parser turns a stored book file into its structural representation.
// Implementations live outside this package (see internal/bookparse) and are
// injected so the domain stays independent of container formats.
type Parser interface {
	Parse(ctx context.Context, filePath string, format FileFormat) (*ParsedBook, error)
}

// # Sorting

// Sort keys accepted by the book list endpoint. Anything outside this
// whitelist is rejected with a validation error before reaching SQL.
const (
	SortCreatedDesc  = "created_desc"
	SortCreatedAsc   = "created_asc"
	SortTitleAsc     = "title_asc"
	SortTitleDesc    = "title_desc"
	SortAuthorAsc    = "author_asc"
	SortAuthorDesc   = "author_desc"
	SortAccessedDesc = "accessed_desc"
)

// sortClauses maps each accepted sort key to its ORDER BY clause. The map
// doubles as the whitelist: keys absent here are invalid.
var sortClauses = map[string]string{
	SortCreatedDesc:  "b.created_at DESC",
	SortCreatedAsc:   "b.created_at ASC",
	SortTitleAsc:     "b.title ASC",
	SortTitleDesc:    "b.title DESC",
	SortAuthorAsc:    "b.author ASC",
	SortAuthorDesc:   "b.author DESC",
	SortAccessedDesc: "b.last_accessed_at DESC NULLS LAST",
}

// OrderClause resolves a sort key into its ORDER BY clause.
func OrderClause(sort string) (string, bool) {
	clause, ok := sortClauses[sort]
	return clause, ok
}

// ListOptions carries the pagination and ordering of a book list query.
type ListOptions struct {
	Skip  int
	Limit int
	Sort  string
}
