// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package bookparse implements the structural file parser behind the
[book.Parser] contract.

It understands the two supported container formats:

  - EPUB: a ZIP container with an OPF package document; chapters come from
    the spine, metadata from the package, the cover from the manifest.
  - FB2: a single XML document; chapters come from top-level body sections,
    metadata from title-info, the cover from base64 binary elements.

Both paths produce the same format-independent [book.ParsedBook]: an ordered,
1-indexed chapter list with plain-text and rendered content, word counts, and
whatever metadata the container carries. The parser holds no state and is safe
for concurrent use.
*/
package bookparse

import (
	"context"
	"fmt"

	"github.com/fablio/fablio/internal/book"
)

// Parser implements [book.Parser] for the supported container formats.
type Parser struct{}

// New constructs the structural parser.
func New() *Parser { return &Parser{} }

// Parse reads the stored file and returns its structural representation.
func (parser *Parser) Parse(ctx context.Context, filePath string, format book.FileFormat) (*book.ParsedBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch format {
	case book.FormatEPUB:
		return parseEPUB(filePath)
	case book.FormatFB2:
		return parseFB2(filePath)
	default:
		return nil, fmt.Errorf("bookparse: unsupported format %q", format)
	}
}
