// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package cache_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/cache"
)

// unreachableClient returns a client pointing at a port nothing listens on,
// with aggressive timeouts so degradation paths run fast.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     50 * time.Millisecond,
		ReadTimeout:     50 * time.Millisecond,
		WriteTimeout:    50 * time.Millisecond,
		MaxRetries:      -1,
		PoolSize:        1,
		MinIdleConns:    0,
		ConnMaxIdleTime: time.Millisecond,
	})
}

/*
TestKeyFamilies pins the canonical fingerprint formats. These strings are a
wire contract with invalidation patterns; changing them silently orphans
cached entries.
*/
func TestKeyFamilies(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"book_list", cache.BookListKey("u1", 0, 50, "created_desc"), "user:u1:books:skip:0:limit:50:sort:created_desc"},
		{"book_metadata", cache.BookMetadataKey("b1"), "book:b1:metadata"},
		{"book_chapters", cache.BookChaptersKey("b1"), "book:b1:chapters"},
		{"book_toc", cache.BookTOCKey("b1"), "book:b1:toc"},
		{"chapter_content", cache.ChapterContentKey("b1", 3), "book:b1:chapter:3"},
		{"descriptions", cache.BookDescriptionsKey("b1", 2), "book:b1:descriptions:chapter:2"},
		{"user_progress", cache.UserProgressKey("u1", "b1"), "user:u1:progress:b1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

/*
TestInvalidationPatterns verifies the pattern helpers cover their key
families.
*/
func TestInvalidationPatterns(t *testing.T) {
	assert.Equal(t, "user:u1:books:*", cache.UserBooksPattern("u1"))
	assert.Equal(t, "book:b1:*", cache.BookPattern("b1"))
	assert.Equal(t, "user:u1:progress:b1", cache.UserProgressPattern("u1", "b1"))
	assert.Equal(t, "user:u1:progress:*", cache.UserProgressPattern("u1", ""))
}

/*
TestTTLClasses pins the per-class expirations. The short book_list TTL is
deliberate: parsing status changes rapidly while books are processed.
*/
func TestTTLClasses(t *testing.T) {
	assert.Equal(t, time.Hour, cache.ClassBookMetadata.TTL)
	assert.Equal(t, time.Hour, cache.ClassBookChapters.TTL)
	assert.Equal(t, 10*time.Second, cache.ClassBookList.TTL)
	assert.Equal(t, time.Hour, cache.ClassChapterContent.TTL)
	assert.Equal(t, 5*time.Minute, cache.ClassUserProgress.TTL)
	assert.Equal(t, time.Hour, cache.ClassBookDescriptions.TTL)
	assert.Equal(t, time.Hour, cache.ClassBookTOC.TTL)
	assert.Equal(t, "book_list", cache.ClassBookList.Name)
}

/*
TestGracefulAbsence exercises the degradation contract with an unreachable
backing store: reads miss, writes fail quietly, deletes are no-ops, and the
availability flag flips false. No operation may return an error or panic.
*/
func TestGracefulAbsence(t *testing.T) {
	client := unreachableClient()
	t.Cleanup(func() { _ = client.Close() })

	c := cache.New(client, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	t.Run("reads_return_absent", func(t *testing.T) {
		var out map[string]string
		found := c.GetJSON(ctx, cache.BookMetadataKey("b1"), &out)
		assert.False(t, found)
	})

	t.Run("writes_fail_quietly", func(t *testing.T) {
		stored := c.SetJSON(ctx, cache.BookMetadataKey("b1"), map[string]string{"title": "x"}, cache.ClassBookMetadata)
		assert.False(t, stored)
	})

	t.Run("delete_pattern_reports_zero", func(t *testing.T) {
		assert.Equal(t, 0, c.DeletePattern(ctx, cache.BookPattern("b1")))
		assert.NotPanics(t, func() { c.Delete(ctx, cache.BookMetadataKey("b1")) })
	})

	t.Run("stats_reports_unavailable", func(t *testing.T) {
		stats := c.Stats(ctx)
		assert.False(t, stats.Available)
		assert.GreaterOrEqual(t, stats.Errors, int64(1))
	})
}

/*
TestSetJSON_RejectsUnmarshalable ensures marshal failures are contained in
the cache layer.
*/
func TestSetJSON_RejectsUnmarshalable(t *testing.T) {
	client := unreachableClient()
	t.Cleanup(func() { _ = client.Close() })

	c := cache.New(client, slog.New(slog.DiscardHandler))

	stored := c.SetJSON(context.Background(), "book:b1:metadata", make(chan int), cache.ClassBookMetadata)
	require.False(t, stored)
}
