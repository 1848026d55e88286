// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package providers

import "strings"

// # Chunking
//
// Chapters regularly exceed the model's comfortable input size, so long text
// is split before extraction. The splitter prefers natural boundaries —
// paragraph breaks, then line breaks, then sentence ends — and falls back to
// a hard cut only when a single unbroken run is longer than the chunk size.
// Consecutive chunks overlap so a description straddling a boundary appears
// whole in at least one chunk; the extractor dedups the doubles.

// chunkSeparators in preference order.
var chunkSeparators = []string{"\n\n", "\n", ". "}

// SplitText splits text into chunks of at most maxChars characters with
// overlapPct percent overlap between consecutive chunks.
func SplitText(text string, maxChars, overlapPct int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	pieces := splitRecursive(text, maxChars, chunkSeparators)
	chunks := packPieces(pieces, maxChars)

	return applyOverlap(chunks, maxChars, overlapPct)
}

// splitRecursive cuts text along the best available separator; pieces still
// over the limit recurse with the next separator, and a final hard cut
// guarantees the bound.
func splitRecursive(text string, maxChars int, separators []string) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	if len(separators) == 0 {
		return hardCut(text, maxChars)
	}

	parts := strings.SplitAfter(text, separators[0])
	pieces := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		pieces = append(pieces, splitRecursive(part, maxChars, separators[1:])...)
	}
	return pieces
}

// hardCut slices an unbreakable run into fixed-size pieces.
func hardCut(text string, maxChars int) []string {
	pieces := make([]string, 0, len(text)/maxChars+1)
	for len(text) > maxChars {
		pieces = append(pieces, text[:maxChars])
		text = text[maxChars:]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// packPieces greedily joins adjacent pieces back together while they fit, so
// splitting on a fine separator does not produce needlessly tiny chunks.
func packPieces(pieces []string, maxChars int) []string {
	chunks := []string{}
	var current strings.Builder

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// applyOverlap prefixes every chunk after the first with the tail of its
// predecessor.
func applyOverlap(chunks []string, maxChars, overlapPct int) []string {
	if overlapPct <= 0 || len(chunks) < 2 {
		return chunks
	}

	overlap := maxChars * overlapPct / 100
	result := make([]string, len(chunks))
	result[0] = chunks[0]

	for index := 1; index < len(chunks); index++ {
		previous := chunks[index-1]
		tail := previous
		if len(tail) > overlap {
			tail = tail[len(tail)-overlap:]
		}
		result[index] = tail + chunks[index]
	}
	return result
}
