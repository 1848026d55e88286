// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

/*
Package cache implements the fingerprinted read cache in front of hot paths.

It is a TTL-bounded key→JSON store backed by Redis. The cache holds no
authoritative state: it is a derived view that may be dropped at any time, so
every failure of the backing store degrades to "absent" on reads and to a
quiet no-op on writes. Requests then continue against the store of record.

# Key Taxonomy

Keys are colon-separated segments whose ordering encodes ownership
(user:<id>:books:..., book:<id>:metadata). Callers never build free-form keys;
the typed helpers in keys.go enumerate every recognized family, and matching
pattern helpers drive invalidation after writes.

# TTL Classes

Each key family belongs to a named TTL class. Book lists use a deliberately
short TTL because parsing status changes rapidly while books are processed.
*/
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fablio/fablio/internal/platform/constants"
)

// maxValueBytes bounds a single cached entry. Oversized values are skipped
// rather than truncated; the caller re-reads from the store of record.
const maxValueBytes = 1 << 20

// scanBatchSize is the COUNT hint for keyspace scans during invalidation.
const scanBatchSize = 200

// Class is a named TTL policy bucket.
type Class struct {
	Name string
	TTL  time.Duration
}

// The enumerated TTL classes. Every cacheable read path maps to exactly one.
var (
	ClassBookMetadata     = Class{Name: "book_metadata", TTL: constants.TTLBookMetadata}
	ClassBookChapters     = Class{Name: "book_chapters", TTL: constants.TTLBookChapters}
	ClassBookList         = Class{Name: "book_list", TTL: constants.TTLBookList}
	ClassChapterContent   = Class{Name: "chapter_content", TTL: constants.TTLChapterContent}
	ClassUserProgress     = Class{Name: "user_progress", TTL: constants.TTLUserProgress}
	ClassBookDescriptions = Class{Name: "book_descriptions", TTL: constants.TTLBookDescriptions}
	ClassBookTOC          = Class{Name: "book_toc", TTL: constants.TTLBookTOC}
)

// Stats is the observability snapshot returned by [Cache.Stats].
type Stats struct {
	Available bool  `json:"available"`
	Keys      int64 `json:"keys"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Errors    int64 `json:"errors"`
}

// Cache is the Redis-backed implementation. The zero value is not usable;
// construct with [New].
type Cache struct {
	client *redis.Client
	logger *slog.Logger

	available atomic.Bool
	hits      atomic.Int64
	misses    atomic.Int64
	errors    atomic.Int64
}

// New wraps a Redis client in the cache policy layer.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	c := &Cache{client: client, logger: logger}
	c.available.Store(true)
	return c
}

// GetJSON reads key and unmarshals it into target. It returns false on a
// miss, on a backing-store failure, and on a decode failure; the caller
// falls through to the store of record in every case.
func (c *Cache) GetJSON(ctx context.Context, key string, target any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.misses.Add(1)
			c.available.Store(true)
			return false
		}
		c.degrade("cache_get_failed", key, err)
		return false
	}

	if err := json.Unmarshal(raw, target); err != nil {
		// A decode failure means the stored shape changed; drop the entry.
		c.logger.Warn("cache_entry_undecodable", slog.String("key", key), slog.Any("error", err))
		_ = c.client.Del(ctx, key).Err()
		c.misses.Add(1)
		return false
	}

	c.hits.Add(1)
	c.available.Store(true)
	return true
}

// SetJSON marshals value and stores it under key with the class TTL. The
// return value reports success; failures are logged and swallowed.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, class Class) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache_marshal_failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if len(raw) > maxValueBytes {
		c.logger.Warn("cache_value_oversized",
			slog.String("key", key),
			slog.Int("bytes", len(raw)),
		)
		return false
	}

	if err := c.client.Set(ctx, key, raw, class.TTL).Err(); err != nil {
		c.degrade("cache_set_failed", key, err)
		return false
	}

	c.available.Store(true)
	return true
}

// Delete removes the given keys. Failures are quiet.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.degrade("cache_delete_failed", keys[0], err)
	}
}

// DeletePattern removes every key matching the glob pattern and returns how
// many were deleted. It scans the keyspace with a cursor, so it is eventually
// consistent with concurrent writers, but every set completed before the call
// that matches the pattern is removed by it.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			c.degrade("cache_scan_failed", pattern, err)
			return deleted
		}

		if len(keys) > 0 {
			removed, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.degrade("cache_delete_failed", pattern, err)
				return deleted
			}
			deleted += int(removed)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.available.Store(true)
	return deleted
}

// Stats returns the current cache observability snapshot.
func (c *Cache) Stats(ctx context.Context) Stats {
	stats := Stats{
		Available: c.available.Load(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Errors:    c.errors.Load(),
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.Keys = keys
		stats.Available = true
		c.available.Store(true)
	} else {
		stats.Available = false
		c.available.Store(false)
	}

	return stats
}

// Ping reports backing-store health for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// degrade records a backing-store failure: flip the availability flag, count
// it, and log at Warn. Callers observe only "absent"/no-op.
func (c *Cache) degrade(event, key string, err error) {
	c.errors.Add(1)
	c.available.Store(false)
	c.logger.Warn(event, slog.String("key", key), slog.Any("error", err))
}
