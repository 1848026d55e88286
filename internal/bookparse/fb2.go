// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package bookparse

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/fablio/fablio/internal/book"
)

// # FB2 Documents
//
// FictionBook 2 is a single XML file. Metadata lives in
// description/title-info, prose in body sections, and embedded images in
// base64 binary elements at the document tail. Russian-language files
// frequently declare windows-1251 or koi8-r encodings, which the stdlib XML
// decoder cannot read without a charset bridge.

type fb2Document struct {
	Description struct {
		TitleInfo struct {
			BookTitle string      `xml:"book-title"`
			Authors   []fb2Author `xml:"author"`
			Lang      string      `xml:"lang"`
			Coverpage struct {
				Image struct {
					Href string `xml:"http://www.w3.org/1999/xlink href,attr"`
				} `xml:"image"`
			} `xml:"coverpage"`
		} `xml:"title-info"`
		PublishInfo struct {
			Publisher string `xml:"publisher"`
			Year      string `xml:"year"`
		} `xml:"publish-info"`
	} `xml:"description"`

	Bodies []struct {
		Name     string       `xml:"name,attr"`
		Sections []fb2Section `xml:"section"`
	} `xml:"body"`

	Binaries []struct {
		ID          string `xml:"id,attr"`
		ContentType string `xml:"content-type,attr"`
		Data        string `xml:",chardata"`
	} `xml:"binary"`
}

type fb2Author struct {
	FirstName  string `xml:"first-name"`
	MiddleName string `xml:"middle-name"`
	LastName   string `xml:"last-name"`
}

func (a fb2Author) String() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{a.FirstName, a.MiddleName, a.LastName} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, " ")
}

type fb2Section struct {
	Title struct {
		Paragraphs []fb2Inline `xml:"p"`
	} `xml:"title"`
	Paragraphs  []fb2Inline  `xml:"p"`
	Subsections []fb2Section `xml:"section"`
}

// fb2Inline captures a paragraph with its inline markup preserved, so
// emphasis and links survive into the rendered content.
type fb2Inline struct {
	Inner string `xml:",innerxml"`
}

// parseFB2 reads one FictionBook file into a [book.ParsedBook].
func parseFB2(filePath string) (*book.ParsedBook, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("fb2: failed to open file: %w", err)
	}
	defer file.Close()

	var document fb2Document
	decoder := xml.NewDecoder(file)
	decoder.CharsetReader = charsetReader
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("fb2: failed to decode document: %w", err)
	}

	info := document.Description.TitleInfo
	parsed := &book.ParsedBook{
		Title:    strings.TrimSpace(info.BookTitle),
		Author:   joinAuthors(info.Authors),
		Language: normalizeLanguage(info.Lang),
		Metadata: map[string]string{},
	}
	if publisher := document.Description.PublishInfo.Publisher; publisher != "" {
		parsed.Metadata["publisher"] = publisher
	}
	if year := document.Description.PublishInfo.Year; year != "" {
		parsed.Metadata["year"] = year
	}

	// ── 1. Chapters from the main body's top-level sections ──
	number := 0
	for _, body := range document.Bodies {
		// Secondary bodies hold notes and comments, not prose.
		if body.Name != "" {
			continue
		}
		for _, section := range body.Sections {
			content, markup := renderSection(section)
			if strings.TrimSpace(content) == "" {
				continue
			}

			number++
			parsed.Chapters = append(parsed.Chapters, book.ParsedChapter{
				Number:      number,
				Title:       sectionTitle(section, number),
				Content:     content,
				HTMLContent: markup,
				WordCount:   countWords(content),
			})
		}
	}

	if len(parsed.Chapters) == 0 {
		return nil, fmt.Errorf("fb2: document holds no readable sections")
	}

	// ── 2. Cover extraction (best-effort) ──
	parsed.Cover = extractFB2Cover(document)

	return parsed, nil
}

// renderSection flattens a section (including nested subsections) into plain
// text and simple rendered markup.
func renderSection(section fb2Section) (content, markup string) {
	var text strings.Builder
	var html strings.Builder

	for _, paragraph := range section.Paragraphs {
		plain := htmlToText(paragraph.Inner)
		if plain == "" {
			continue
		}
		text.WriteString(plain)
		text.WriteString("\n\n")
		html.WriteString("<p>")
		html.WriteString(paragraph.Inner)
		html.WriteString("</p>\n")
	}

	for _, subsection := range section.Subsections {
		if title := sectionTitle(subsection, 0); title != "" {
			html.WriteString("<h3>")
			html.WriteString(title)
			html.WriteString("</h3>\n")
		}
		subText, subHTML := renderSection(subsection)
		text.WriteString(subText)
		html.WriteString(subHTML)
	}

	return strings.TrimSpace(text.String()) + "\n", html.String()
}

// sectionTitle joins the title paragraphs of a section; fallback numbering
// applies only for top-level chapters (number > 0).
func sectionTitle(section fb2Section, number int) string {
	parts := make([]string, 0, len(section.Title.Paragraphs))
	for _, paragraph := range section.Title.Paragraphs {
		if plain := htmlToText(paragraph.Inner); plain != "" {
			parts = append(parts, plain)
		}
	}

	title := strings.Join(parts, " ")
	if title == "" && number > 0 {
		title = fmt.Sprintf("Chapter %d", number)
	}
	return title
}

// extractFB2Cover decodes the binary element referenced by the coverpage.
func extractFB2Cover(document fb2Document) []byte {
	href := strings.TrimPrefix(document.Description.TitleInfo.Coverpage.Image.Href, "#")
	if href == "" {
		return nil
	}

	for _, binary := range document.Binaries {
		if binary.ID != href || !strings.HasPrefix(binary.ContentType, "image/") {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(binary.Data))
		if err != nil {
			return nil
		}
		return data
	}

	return nil
}

func joinAuthors(authors []fb2Author) string {
	names := make([]string, 0, len(authors))
	for _, author := range authors {
		if name := author.String(); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// charsetReader bridges the legacy encodings FB2 files ship with onto the
// XML decoder. UTF-8 passes through untouched.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	var decoder *encoding.Decoder

	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "":
		return input, nil
	case "windows-1251", "cp1251":
		decoder = charmap.Windows1251.NewDecoder()
	case "windows-1252", "cp1252":
		decoder = charmap.Windows1252.NewDecoder()
	case "koi8-r":
		decoder = charmap.KOI8R.NewDecoder()
	case "iso-8859-1", "latin1":
		decoder = charmap.ISO8859_1.NewDecoder()
	default:
		return nil, fmt.Errorf("fb2: unsupported charset %q", charset)
	}

	return decoder.Reader(input), nil
}
