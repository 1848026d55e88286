// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package imagegen

import (
	"strings"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/description"
	"github.com/fablio/fablio/internal/platform/constants"
)

// # Prompt Assembly
//
// A prompt is template + content + genre modifier + quality suffix, in that
// order. The genre list is closed; "other" adds no modifier. The total is
// capped by trimming the description content, never the style directives,
// so an oversized passage cannot push the art direction out of the prompt.

// typeTemplates open the prompt according to what the description depicts.
var typeTemplates = map[description.Type]string{
	description.TypeLocation:   "A detailed illustration of the following place from a book: ",
	description.TypeCharacter:  "A portrait of the following character from a book: ",
	description.TypeAtmosphere: "An atmospheric scene from a book capturing: ",
}

// genreModifiers steer the visual style per book genre.
var genreModifiers = map[book.Genre]string{
	book.GenreFantasy:    "Epic fantasy art style, painterly, rich colors.",
	book.GenreDetective:  "Film noir mood, muted palette, dramatic shadows.",
	book.GenreRomance:    "Soft warm lighting, gentle color palette.",
	book.GenreSciFi:      "Futuristic concept art, sleek surfaces, neon accents.",
	book.GenreHorror:     "Dark unsettling tones, deep shadows, muted colors.",
	book.GenreHistorical: "Period-accurate detail, classical painting style.",
	book.GenreAdventure:  "Dynamic composition, vivid natural light.",
}

const qualitySuffix = "High detail, coherent composition, no text, no watermarks."

// BuildPrompt assembles the generator prompt for one description.
func BuildPrompt(kind description.Type, content string, genre book.Genre) string {
	template, ok := typeTemplates[kind]
	if !ok {
		template = typeTemplates[description.TypeAtmosphere]
	}

	var suffix strings.Builder
	if modifier, ok := genreModifiers[genre]; ok {
		suffix.WriteString(" ")
		suffix.WriteString(modifier)
	}
	suffix.WriteString(" ")
	suffix.WriteString(qualitySuffix)

	// Trim the content, not the directives, when the cap is exceeded.
	budget := constants.PromptMaxChars - len(template) - suffix.Len()
	content = strings.TrimSpace(content)
	if len(content) > budget {
		content = strings.TrimSpace(content[:budget])
	}

	return template + content + suffix.String()
}
