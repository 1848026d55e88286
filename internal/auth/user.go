// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

// Package auth owns the user identity lifecycle: registration, login,
// token issuance and revocation.
//
// # Architecture
//
// Entities in this file represent the "Truth" of the identity domain.
// They have no dependencies on outer layers (like databases, APIs, or libraries).
// This makes the core logic highly testable and resilient to technology changes.
package auth

import (
	"time"

	"github.com/fablio/fablio/internal/platform/sec"
)

// User represents a registered member of the Fablio platform.
//
// # Rules
//   - Email is unique, lowercased, and validated.
//   - PasswordHash is generated via Bcrypt exclusively via [Service].
//   - Tier drives parsing-queue priority (free < premium < ultimate).
//   - IsAdmin grants access to the /admin route group.
type User struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	PasswordHash string               `json:"-"` // Explicitly omitted from JSON for security.
	IsAdmin      bool                 `json:"is_admin"`
	Tier         sec.SubscriptionTier `json:"subscription_tier"`
	IsActive     bool                 `json:"is_active"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Identity converts the user into the claim set embedded in issued tokens.
func (u *User) Identity() sec.Identity {
	return sec.Identity{
		UserID:  u.ID,
		Email:   u.Email,
		IsAdmin: u.IsAdmin,
		Tier:    string(u.Tier),
	}
}

// Session represents an active refresh-token session.
//
// # Security Concept
//
// Access Tokens (JWT) are stateless and cannot be revoked easily before they
// expire. Fablio therefore pairs short-lived JWTs with long-lived Sessions
// stored in the database. When the JWT expires, the client uses the Session
// (Refresh Token) to issue a new JWT. Revoking a Session logs the user out
// globally; revoking a single access token goes through the [Blacklist].
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Hashed value of the refresh token. Omitted for security.
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	ExpiresAt time.Time `json:"expires_at"`
	IsRevoked bool      `json:"is_revoked"`
	CreatedAt time.Time `json:"created_at"`
}
