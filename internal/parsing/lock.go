// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package parsing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fablio/fablio/internal/platform/constants"
)

// releaseScript deletes the lease only when the caller still owns it, so a
// lock that expired and was re-acquired by another run is never stolen back.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseLock implements [Locker] over Redis SET NX EX.
//
// The lease bounds how long a crashed worker can block its book: once the
// key expires the reaper fails the orphaned job and the slot is reusable.
type LeaseLock struct {
	client *redis.Client
	lease  time.Duration
}

// NewLeaseLock creates the lock manager with the given lease duration.
func NewLeaseLock(client *redis.Client, lease time.Duration) *LeaseLock {
	return &LeaseLock{client: client, lease: lease}
}

func lockKey(bookID string) string {
	return constants.RedisPrefixParseLock + bookID
}

// TryAcquire takes the book's lease for ownerID without blocking.
func (lock *LeaseLock) TryAcquire(ctx context.Context, bookID, ownerID string) (bool, error) {
	acquired, err := lock.client.SetNX(ctx, lockKey(bookID), ownerID, lock.lease).Result()
	if err != nil {
		return false, fmt.Errorf("parse_lock_acquire_failed: %w", err)
	}
	return acquired, nil
}

// Release frees the lease when ownerID still holds it. Releasing a lease
// someone else took over (after expiry) is a silent no-op.
func (lock *LeaseLock) Release(ctx context.Context, bookID, ownerID string) error {
	if err := releaseScript.Run(ctx, lock.client, []string{lockKey(bookID)}, ownerID).Err(); err != nil {
		return fmt.Errorf("parse_lock_release_failed: %w", err)
	}
	return nil
}

// Held reports whether any owner currently holds the book's lease.
func (lock *LeaseLock) Held(ctx context.Context, bookID string) (bool, error) {
	count, err := lock.client.Exists(ctx, lockKey(bookID)).Result()
	if err != nil {
		return false, fmt.Errorf("parse_lock_check_failed: %w", err)
	}
	return count > 0, nil
}
