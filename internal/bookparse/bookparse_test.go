// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package bookparse_test

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/fablio/fablio/internal/book"
	"github.com/fablio/fablio/internal/bookparse"
)

// ── EPUB fixtures ───────────────────────────────────────────────────────────

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const contentOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book for Integration</dc:title>
    <dc:creator>Jane Writer</dc:creator>
    <dc:language>en-US</dc:language>
    <dc:publisher>Fixture Press</dc:publisher>
  </metadata>
  <manifest>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="cover-img" href="cover.jpg" media-type="image/jpeg" properties="cover-image"/>
  </manifest>
  <spine>
    <itemref idref="nav" linear="no"/>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const chapterOneXHTML = `<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>ignored</title></head>
<body>
  <h1>The Beginning</h1>
  <p>It was a dark &amp; stormy night in the old harbour town.</p>
  <p>Nobody expected what came next.</p>
</body>
</html>`

const chapterTwoXHTML = `<html xmlns="http://www.w3.org/1999/xhtml">
<body>
  <h1>The Middle</h1>
  <p>Morning light crept over the rooftops of the quarter.</p>
</body>
</html>`

var coverJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func writeEPUB(t *testing.T, entries map[string][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.epub")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	archive := zip.NewWriter(file)
	for name, data := range entries {
		writer, err := archive.Create(name)
		require.NoError(t, err)
		_, err = writer.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, archive.Close())

	return path
}

func defaultEPUBEntries() map[string][]byte {
	return map[string][]byte{
		"META-INF/container.xml": []byte(containerXML),
		"OEBPS/content.opf":      []byte(contentOPF),
		"OEBPS/chapter1.xhtml":   []byte(chapterOneXHTML),
		"OEBPS/chapter2.xhtml":   []byte(chapterTwoXHTML),
		"OEBPS/nav.xhtml":        []byte(`<html><body><nav><a href="chapter1.xhtml">1</a></nav></body></html>`),
		"OEBPS/cover.jpg":        coverJPEG,
	}
}

// ── EPUB ────────────────────────────────────────────────────────────────────

func TestParseEPUB_FullBook(t *testing.T) {
	path := writeEPUB(t, defaultEPUBEntries())

	parsed, err := bookparse.New().Parse(context.Background(), path, book.FormatEPUB)
	require.NoError(t, err)

	assert.Equal(t, "Test Book for Integration", parsed.Title)
	assert.Equal(t, "Jane Writer", parsed.Author)
	assert.Equal(t, "en", parsed.Language, "language tag reduced to the primary subtag")
	assert.Equal(t, "Fixture Press", parsed.Metadata["publisher"])
	assert.Equal(t, coverJPEG, parsed.Cover)

	require.Len(t, parsed.Chapters, 2)

	first := parsed.Chapters[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "The Beginning", first.Title)
	assert.Contains(t, first.Content, "dark & stormy night", "entities decoded in plain text")
	assert.Contains(t, first.HTMLContent, "<p>It was a dark &amp; stormy night")
	// Heading (2) + first paragraph (12, "&" counts) + second paragraph (5).
	assert.Equal(t, 19, first.WordCount)

	second := parsed.Chapters[1]
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, "The Middle", second.Title)
}

func TestParseEPUB_SkipsNonLinearAndEmptySpineItems(t *testing.T) {
	path := writeEPUB(t, defaultEPUBEntries())

	parsed, err := bookparse.New().Parse(context.Background(), path, book.FormatEPUB)
	require.NoError(t, err)

	// The nav document is linear="no" and must not appear as a chapter;
	// numbering stays contiguous from 1.
	for index, chapter := range parsed.Chapters {
		assert.Equal(t, index+1, chapter.Number)
		assert.NotContains(t, chapter.Title, "nav")
	}
}

func TestParseEPUB_CorruptedContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip archive"), 0o644))

	_, err := bookparse.New().Parse(context.Background(), path, book.FormatEPUB)
	assert.Error(t, err)
}

func TestParseEPUB_MissingRootfile(t *testing.T) {
	entries := defaultEPUBEntries()
	delete(entries, "OEBPS/content.opf")
	path := writeEPUB(t, entries)

	_, err := bookparse.New().Parse(context.Background(), path, book.FormatEPUB)
	assert.Error(t, err)
}

// ── FB2 ─────────────────────────────────────────────────────────────────────

func fb2Fixture(coverData []byte) string {
	cover := ""
	coverRef := ""
	if coverData != nil {
		cover = `<binary id="cover.jpg" content-type="image/jpeg">` +
			base64.StdEncoding.EncodeToString(coverData) + `</binary>`
		coverRef = `<coverpage><image l:href="#cover.jpg"/></coverpage>`
	}

	return `<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0" xmlns:l="http://www.w3.org/1999/xlink">
  <description>
    <title-info>
      <book-title>Ночной дозор</book-title>
      <author><first-name>Sergei</first-name><last-name>Writer</last-name></author>
      <lang>ru</lang>
      ` + coverRef + `
    </title-info>
    <publish-info><publisher>Fixture Press</publisher><year>1998</year></publish-info>
  </description>
  <body>
    <section>
      <title><p>Глава первая</p></title>
      <p>Тёмные улицы города хранили <emphasis>свои</emphasis> тайны.</p>
      <p>Никто не знал, что будет дальше.</p>
    </section>
    <section>
      <title><p>Глава вторая</p></title>
      <p>Утро наступило внезапно.</p>
    </section>
  </body>
  <body name="notes">
    <section><p>Издательское примечание, не глава.</p></section>
  </body>
  ` + cover + `
</FictionBook>`
}

func TestParseFB2_FullBook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.fb2")
	require.NoError(t, os.WriteFile(path, []byte(fb2Fixture(coverJPEG)), 0o644))

	parsed, err := bookparse.New().Parse(context.Background(), path, book.FormatFB2)
	require.NoError(t, err)

	assert.Equal(t, "Ночной дозор", parsed.Title)
	assert.Equal(t, "Sergei Writer", parsed.Author)
	assert.Equal(t, "ru", parsed.Language)
	assert.Equal(t, "Fixture Press", parsed.Metadata["publisher"])
	assert.Equal(t, "1998", parsed.Metadata["year"])
	assert.Equal(t, coverJPEG, parsed.Cover)

	// The notes body must not contribute chapters.
	require.Len(t, parsed.Chapters, 2)
	assert.Equal(t, "Глава первая", parsed.Chapters[0].Title)
	assert.Contains(t, parsed.Chapters[0].Content, "свои тайны", "inline markup stripped from plain text")
	assert.Contains(t, parsed.Chapters[0].HTMLContent, "<emphasis>свои</emphasis>")
	assert.Equal(t, "Глава вторая", parsed.Chapters[1].Title)
}

func TestParseFB2_Windows1251Charset(t *testing.T) {
	// Re-encode a UTF-8 fixture into windows-1251, as legacy files ship.
	utf8Document := `<?xml version="1.0" encoding="windows-1251"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0">
  <description><title-info><book-title>Старая книга</book-title><lang>ru</lang></title-info></description>
  <body><section><title><p>Глава</p></title><p>Текст в старой кодировке.</p></section></body>
</FictionBook>`

	encoded, err := charmap.Windows1251.NewEncoder().String(utf8Document)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "legacy.fb2")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0o644))

	parsed, err := bookparse.New().Parse(context.Background(), path, book.FormatFB2)
	require.NoError(t, err)

	assert.Equal(t, "Старая книга", parsed.Title)
	require.Len(t, parsed.Chapters, 1)
	assert.Contains(t, parsed.Chapters[0].Content, "Текст в старой кодировке.")
}

func TestParseFB2_NoSectionsFails(t *testing.T) {
	document := `<?xml version="1.0" encoding="utf-8"?>
<FictionBook xmlns="http://www.gribuser.ru/xml/fictionbook/2.0">
  <description><title-info><book-title>Empty</book-title></title-info></description>
  <body></body>
</FictionBook>`

	path := filepath.Join(t.TempDir(), "empty.fb2")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o644))

	_, err := bookparse.New().Parse(context.Background(), path, book.FormatFB2)
	assert.Error(t, err)
}
