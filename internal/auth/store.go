// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package auth

import (
	"context"
	"time"
)

// UserRepository defines the data access contract for user accounts.
//
// # Implementations
//
// The canonical implementation for Fablio is PostgreSQL (store_postgres.go).
type UserRepository interface {
	// FindByID returns the account with the given ID.
	//
	// Returns [apperr.NotFound] if the account does not exist.
	FindByID(ctx context.Context, id string) (*User, error)

	// FindByEmail returns the account with the given email.
	//
	// Returns [apperr.NotFound] if no user is registered with this email.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Create persists a brand-new user account to the storage.
	//
	// Returns a wrapped error if the email unique constraint fails.
	Create(ctx context.Context, user *User) error

	// UpdateTier changes the subscription tier for an account.
	UpdateTier(ctx context.Context, userID, tier string) error

	// Deactivate marks the account inactive without removing the row.
	// Accounts are never hard-deleted while owned books exist.
	Deactivate(ctx context.Context, id string) error
}

// SessionRepository defines the data access contract for refresh-token sessions.
type SessionRepository interface {
	// Create persists a new tracking session for an authenticated login.
	Create(ctx context.Context, session *Session) error

	// FindByTokenHash returns the active session matching the given token hash.
	//
	// Returns [apperr.NotFound] if the session is invalid, expired, or revoked.
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Revoke marks a specific session as permanently invalidated.
	Revoke(ctx context.Context, sessionID string) error

	// RevokeAll revokes every active session belonging to the userID.
	// Crucial for security event responses (e.g., password change).
	RevokeAll(ctx context.Context, userID string) error

	// DeleteExpired physically removes sessions whose ExpiresAt is in the past.
	// Intended to be called by a periodic background cleanup worker.
	DeleteExpired(ctx context.Context) error
}

// Blacklist is the revocation set for issued access tokens.
//
// # Availability Policy
//
// The blacklist recovers locally when its backing store is unreachable. The
// default policy fails open (tokens are accepted); security-sensitive
// deployments flip TOKEN_BLACKLIST_FAIL_CLOSED to reject instead.
type Blacklist interface {
	// Add revokes a token until expiresAt. Already-expired tokens are a no-op.
	Add(ctx context.Context, token string, expiresAt time.Time) error

	// IsBlacklisted reports whether the token has been revoked.
	IsBlacklisted(ctx context.Context, token string) bool

	// Remove un-revokes a token (administrative escape hatch).
	Remove(ctx context.Context, token string) error
}
