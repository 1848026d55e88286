// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package storage manages the authoritative filesystem layout of the platform.

Three directories hold all file artifacts:

  - books/             uploaded EPUB/FB2 files, keyed by a random ID per upload
  - covers/            extracted cover images, keyed by book ID
  - generated_images/  AI illustrations, named by prompt hash plus timestamp

Database rows reference files by paths relative to the storage root, so the
root can be relocated (bind mount, volume) without rewriting rows. Deletions
are best-effort: rows are the source of truth and orphaned files are harmless.
*/
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Subdirectory names under the storage root.
const (
	booksDir  = "books"
	coversDir = "covers"
	imagesDir = "generated_images"
)

// Store resolves and guards paths under the storage root.
type Store struct {
	root string
}

// New creates the storage layout rooted at root, creating the three
// subdirectories when missing.
func New(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve root %s: %w", root, err)
	}

	for _, dir := range []string{booksDir, coversDir, imagesDir} {
		if err := os.MkdirAll(filepath.Join(absRoot, dir), 0o755); err != nil {
			return nil, fmt.Errorf("storage: failed to create %s: %w", dir, err)
		}
	}

	return &Store{root: absRoot}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// SaveBookFile streams an uploaded book to disk and returns its path relative
// to the storage root together with the byte count written.
func (s *Store) SaveBookFile(uploadID, extension string, reader io.Reader) (string, int64, error) {
	relative := filepath.Join(booksDir, uploadID+extension)

	file, err := os.Create(filepath.Join(s.root, relative))
	if err != nil {
		return "", 0, fmt.Errorf("storage: failed to create book file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		_ = os.Remove(file.Name())
		return "", 0, fmt.Errorf("storage: failed to write book file: %w", err)
	}

	return relative, written, nil
}

// SaveCover writes the extracted cover bytes for a book and returns the
// relative path.
func (s *Store) SaveCover(bookID string, data []byte) (string, error) {
	relative := filepath.Join(coversDir, bookID+".jpg")

	if err := os.WriteFile(filepath.Join(s.root, relative), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: failed to write cover: %w", err)
	}

	return relative, nil
}

// SaveGeneratedImage writes AI image bytes under a deterministic name derived
// from the prompt hash and the current time, returning the relative path.
func (s *Store) SaveGeneratedImage(promptHash string, data []byte) (string, error) {
	relative := filepath.Join(imagesDir, fmt.Sprintf("%s_%d.png", promptHash, time.Now().Unix()))

	if err := os.WriteFile(filepath.Join(s.root, relative), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: failed to write generated image: %w", err)
	}

	return relative, nil
}

// Open opens a stored file by its relative path.
func (s *Store) Open(relative string) (*os.File, error) {
	absolute, err := s.resolve(relative)
	if err != nil {
		return nil, err
	}
	return os.Open(absolute)
}

// Remove deletes a stored file by its relative path. Missing files are not an
// error: deletions are best-effort by contract.
func (s *Store) Remove(relative string) error {
	if relative == "" {
		return nil
	}

	absolute, err := s.resolve(relative)
	if err != nil {
		return err
	}

	if err := os.Remove(absolute); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to remove %s: %w", relative, err)
	}
	return nil
}

// resolve joins a relative path onto the root and rejects escapes.
func (s *Store) resolve(relative string) (string, error) {
	absolute := filepath.Join(s.root, filepath.Clean(relative))
	if !strings.HasPrefix(absolute, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path %s escapes storage root", relative)
	}
	return absolute, nil
}
