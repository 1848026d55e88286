// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package bookparse

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/fablio/fablio/internal/book"
)

// # OPF Package Documents
//
// An EPUB is a ZIP whose META-INF/container.xml points at the OPF package
// document. The OPF carries the Dublin Core metadata, the manifest (id →
// file), and the spine (reading order of manifest ids).

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles    []string  `xml:"title"`
		Creators  []string  `xml:"creator"`
		Languages []string  `xml:"language"`
		Publisher string    `xml:"publisher"`
		Metas     []opfMeta `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// parseEPUB reads one EPUB container into a [book.ParsedBook].
func parseEPUB(filePath string) (*book.ParsedBook, error) {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("epub: failed to open container: %w", err)
	}
	defer archive.Close()

	files := make(map[string]*zip.File, len(archive.File))
	for _, file := range archive.File {
		files[file.Name] = file
	}

	// ── 1. Locate the OPF package document ──
	opfPath, err := locateOPF(files)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := decodeZipXML(files, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("epub: failed to read package document: %w", err)
	}

	// Manifest hrefs are relative to the OPF location.
	opfDir := path.Dir(opfPath)
	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	parsed := &book.ParsedBook{
		Title:    first(pkg.Metadata.Titles),
		Author:   strings.Join(pkg.Metadata.Creators, ", "),
		Language: normalizeLanguage(first(pkg.Metadata.Languages)),
		Metadata: map[string]string{},
	}
	if pkg.Metadata.Publisher != "" {
		parsed.Metadata["publisher"] = pkg.Metadata.Publisher
	}

	// ── 2. Chapters from the spine, in reading order ──
	number := 0
	for _, ref := range pkg.Spine.ItemRefs {
		if ref.Linear == "no" {
			continue
		}
		item, ok := manifest[ref.IDRef]
		if !ok || !strings.Contains(item.MediaType, "html") {
			continue
		}

		markup, err := readZipFile(files, resolveHref(opfDir, item.Href))
		if err != nil {
			return nil, fmt.Errorf("epub: failed to read spine item %s: %w", item.Href, err)
		}

		body := extractBody(string(markup))
		content := htmlToText(body)
		if strings.TrimSpace(content) == "" {
			// Navigation pages and image-only inserts carry no prose.
			continue
		}

		number++
		parsed.Chapters = append(parsed.Chapters, book.ParsedChapter{
			Number:      number,
			Title:       chapterTitle(body, number),
			Content:     content,
			HTMLContent: body,
			WordCount:   countWords(content),
		})
	}

	if len(parsed.Chapters) == 0 {
		return nil, fmt.Errorf("epub: container holds no readable chapters")
	}

	// ── 3. Cover extraction (best-effort) ──
	parsed.Cover = extractEPUBCover(files, opfDir, pkg, manifest)

	return parsed, nil
}

// locateOPF resolves the package document path via META-INF/container.xml.
func locateOPF(files map[string]*zip.File) (string, error) {
	var container epubContainer
	if err := decodeZipXML(files, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("epub: missing or invalid container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("epub: container.xml names no rootfile")
	}
	return container.Rootfiles[0].FullPath, nil
}

/*
extractEPUBCover finds the cover image, trying the EPUB 3 convention first
(manifest item with the cover-image property), then the EPUB 2 convention
(a meta element naming the manifest id). A missing cover is not an error.
*/
func extractEPUBCover(files map[string]*zip.File, opfDir string, pkg opfPackage, manifest map[string]opfItem) []byte {
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.Properties, "cover-image") {
			if data, err := readZipFile(files, resolveHref(opfDir, item.Href)); err == nil {
				return data
			}
		}
	}

	for _, meta := range pkg.Metadata.Metas {
		if meta.Name != "cover" {
			continue
		}
		if item, ok := manifest[meta.Content]; ok && strings.HasPrefix(item.MediaType, "image/") {
			if data, err := readZipFile(files, resolveHref(opfDir, item.Href)); err == nil {
				return data
			}
		}
	}

	return nil
}

// resolveHref joins a manifest href onto the OPF directory.
func resolveHref(opfDir, href string) string {
	if opfDir == "." || opfDir == "" {
		return href
	}
	return path.Join(opfDir, href)
}

// decodeZipXML unmarshals one archived XML document.
func decodeZipXML(files map[string]*zip.File, name string, target any) error {
	data, err := readZipFile(files, name)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, target)
}

// readZipFile reads one archive entry fully.
func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	file, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("entry %s not found", name)
	}

	reader, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// normalizeLanguage reduces a language tag to its primary subtag ("en-US" →
// "en").
func normalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if index := strings.IndexAny(tag, "-_"); index > 0 {
		tag = tag[:index]
	}
	return tag
}
