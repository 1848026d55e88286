// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package bookparse

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// # Markup Utilities
//
// The reader stores two renditions of every chapter: the original markup for
// display and a plain-text projection for word counts, pagination estimates,
// and the description pipeline. These helpers produce the projection.

var (
	bodyPattern    = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	headingPattern = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	titlePattern   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptPattern  = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blockPattern   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|blockquote|section|br)>|<br\s*/?>`)
	tagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
	blankPattern   = regexp.MustCompile(`\n{3,}`)
)

// extractBody returns the inner markup of the body element, or the whole
// document when no body tag is present (fragments, FB2 paragraphs).
func extractBody(markup string) string {
	if match := bodyPattern.FindStringSubmatch(markup); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(markup)
}

/*
htmlToText projects markup to readable plain text.

Block-level closings become paragraph breaks so sentence boundaries survive,
inline tags are dropped, and entities are decoded. The result is trimmed and
never carries more than one blank line in a row.
*/
func htmlToText(markup string) string {
	text := scriptPattern.ReplaceAllString(markup, "")
	text = blockPattern.ReplaceAllString(text, "\n\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = spacePattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for index := range lines {
		lines[index] = strings.TrimSpace(lines[index])
	}
	text = strings.Join(lines, "\n")
	text = blankPattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// chapterTitle pulls a display title out of chapter markup: the first heading
// wins, then the document title, then a positional fallback.
func chapterTitle(markup string, number int) string {
	if match := headingPattern.FindStringSubmatch(markup); match != nil {
		if title := htmlToText(match[1]); title != "" {
			return title
		}
	}
	if match := titlePattern.FindStringSubmatch(markup); match != nil {
		if title := htmlToText(match[1]); title != "" {
			return title
		}
	}
	return "Chapter " + strconv.Itoa(number)
}

// countWords counts whitespace-separated tokens.
func countWords(text string) int {
	return len(strings.Fields(text))
}
