// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package cache

import "fmt"

// # Key Families
//
// Every cacheable read path has exactly one constructor here. Free-form key
// drift is a bug; new families are added to this file, never inlined.

// BookListKey fingerprints one page of a user's book list.
func BookListKey(userID string, skip, limit int, sort string) string {
	return fmt.Sprintf("user:%s:books:skip:%d:limit:%d:sort:%s", userID, skip, limit, sort)
}

// BookMetadataKey fingerprints a book detail view.
func BookMetadataKey(bookID string) string {
	return fmt.Sprintf("book:%s:metadata", bookID)
}

// BookChaptersKey fingerprints the full chapter listing of a book.
func BookChaptersKey(bookID string) string {
	return fmt.Sprintf("book:%s:chapters", bookID)
}

// BookTOCKey fingerprints the lightweight table of contents of a book.
func BookTOCKey(bookID string) string {
	return fmt.Sprintf("book:%s:toc", bookID)
}

// ChapterContentKey fingerprints a single chapter's content.
func ChapterContentKey(bookID string, chapterNumber int) string {
	return fmt.Sprintf("book:%s:chapter:%d", bookID, chapterNumber)
}

// BookDescriptionsKey fingerprints the extracted descriptions of a chapter.
func BookDescriptionsKey(bookID string, chapterNumber int) string {
	return fmt.Sprintf("book:%s:descriptions:chapter:%d", bookID, chapterNumber)
}

// UserProgressKey fingerprints a user's reading progress for a book.
func UserProgressKey(userID, bookID string) string {
	return fmt.Sprintf("user:%s:progress:%s", userID, bookID)
}

// # Invalidation Patterns
//
// Writes invalidate by pattern after the mutation commits and before the
// success is returned to the caller.

// UserBooksPattern matches every cached book-list page of a user.
func UserBooksPattern(userID string) string {
	return fmt.Sprintf("user:%s:books:*", userID)
}

// BookPattern matches every cached view derived from one book: metadata,
// chapters, TOC, chapter contents, and descriptions.
func BookPattern(bookID string) string {
	return fmt.Sprintf("book:%s:*", bookID)
}

// UserProgressPattern matches the progress entries of a user. With an empty
// bookID it covers every book.
func UserProgressPattern(userID, bookID string) string {
	if bookID == "" {
		return fmt.Sprintf("user:%s:progress:*", userID)
	}
	return fmt.Sprintf("user:%s:progress:%s", userID, bookID)
}
