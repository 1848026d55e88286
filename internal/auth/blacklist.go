// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/sec"
)

// RedisBlacklist implements [Blacklist] on Redis.
//
// Each revoked token is stored as a key whose TTL equals the token's
// remaining lifetime, so entries expire exactly when the token would have.
//
// # Availability Trade-off
//
// When Redis is unreachable the blacklist cannot answer. The default policy
// fails open: IsBlacklisted returns false and the request proceeds, trading a
// revocation window for availability. Deployments that prefer the opposite
// trade set failClosed, which rejects every token while the store is down.
type RedisBlacklist struct {
	client     *redis.Client
	logger     *slog.Logger
	failClosed bool
}

// NewRedisBlacklist constructs the blacklist with its availability policy.
func NewRedisBlacklist(client *redis.Client, failClosed bool, logger *slog.Logger) *RedisBlacklist {
	return &RedisBlacklist{client: client, failClosed: failClosed, logger: logger}
}

// key derives the Redis key for a token. Tokens are digested so the keyspace
// stays bounded regardless of token length.
func (blacklist *RedisBlacklist) key(token string) string {
	return constants.RedisPrefixBlacklist + sec.HashToken(token)
}

// Add revokes the token until its original expiry.
//
// Tokens that are already expired are a no-op: the verifier rejects them on
// its own and storing them would only churn the keyspace.
func (blacklist *RedisBlacklist) Add(ctx context.Context, token string, expiresAt time.Time) error {
	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}

	if err := blacklist.client.Set(ctx, blacklist.key(token), "1", remaining).Err(); err != nil {
		return fmt.Errorf("blacklist_add_failed: %w", err)
	}

	return nil
}

// IsBlacklisted reports whether the token has been revoked.
//
// Store failures resolve per the availability policy: false when failing
// open, true when failing closed. Either way the failure is logged.
func (blacklist *RedisBlacklist) IsBlacklisted(ctx context.Context, token string) bool {
	err := blacklist.client.Get(ctx, blacklist.key(token)).Err()
	if err == nil {
		return true
	}
	if errors.Is(err, redis.Nil) {
		return false
	}

	blacklist.logger.Warn("blacklist_unavailable",
		slog.Bool("fail_closed", blacklist.failClosed),
		slog.Any("error", err),
	)
	return blacklist.failClosed
}

// Remove un-revokes a token.
func (blacklist *RedisBlacklist) Remove(ctx context.Context, token string) error {
	if err := blacklist.client.Del(ctx, blacklist.key(token)).Err(); err != nil {
		return fmt.Errorf("blacklist_remove_failed: %w", err)
	}
	return nil
}
