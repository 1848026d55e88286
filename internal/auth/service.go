// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/constants"
	"github.com/fablio/fablio/internal/platform/sec"
	"github.com/fablio/fablio/internal/platform/validate"
	"github.com/fablio/fablio/pkg/uuidv7"
)

// TokenProvider defines the contract for generating and verifying security tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT string for the given identity.
	GenerateAccessToken(identity sec.Identity, timeToLive time.Duration) (string, error)

	// VerifyToken checks signature and validity of an access token.
	VerifyToken(tokenString string) (*sec.AuthClaims, error)
}

// Service implements user authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, registration,
// or login logic must be reviewed by the security team.
type Service struct {
	userRepository    UserRepository
	sessionRepository SessionRepository
	tokenProvider     TokenProvider
	blacklist         Blacklist
}

// NewService constructs a new auth [Service] with necessary dependencies.
func NewService(
	userRepo UserRepository,
	sessionRepo SessionRepository,
	tokenProv TokenProvider,
	blacklist Blacklist,
) *Service {
	return &Service{
		userRepository:    userRepo,
		sessionRepository: sessionRepo,
		tokenProvider:     tokenProv,
		blacklist:         blacklist,
	}
}

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Email    string
	Password string
}

// Register validates, hashes, and persists a brand new user account.
//
// # Business Rules
//   - Emails are unique and stored lowercased.
//   - Passwords must pass the weak-password policy.
//   - New accounts start on the free tier, non-admin, active.
func (service *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	// ── 1. Input Validation ───────────────────────────────────────────────

	validator := &validate.Validator{}
	if err := validator.Required("email", email).Email("email", email).Err(); err != nil {
		return nil, err
	}
	if err := checkPasswordStrength(input.Password); err != nil {
		return nil, err
	}

	// ── 2. Uniqueness Check ───────────────────────────────────────────────

	// Verify email uniqueness. Return a client-safe Conflict error.
	if _, err := service.userRepository.FindByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("Email is already registered").WithCode("already_registered")
	}

	// ── 3. Security ───────────────────────────────────────────────────────

	// Prevent storing plain-text passwords. Default cost is used for balance
	// between security and CPU utilization during registration spikes.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth_service_hash_failed: %w", err)
	}

	// ── 4. Entity Construction & Persistence ──────────────────────────────

	user := &User{
		ID:           uuidv7.New(), // Time-sortable ID to prevent PG index fragmentation.
		Email:        email,
		PasswordHash: hashedPassword,
		IsAdmin:      false,
		Tier:         sec.TierFree,
		IsActive:     true,
	}

	if err := service.userRepository.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("auth_service_register_failed: %w", err)
	}

	return user, nil
}

// checkPasswordStrength enforces the minimum password policy: at least 8
// characters with at least one letter and one digit.
func checkPasswordStrength(password string) error {
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if len(password) < 8 || !hasLetter || !hasDigit {
		return apperr.ValidationError(
			"Password must be at least 8 characters and contain a letter and a digit",
		).WithCode("weak_password")
	}
	return nil
}

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginSession represents a successfully established user session.
type LoginSession struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  *User
}

// Login validates user credentials and issues a token pair.
//
// # Flow
//  1. Lookup user by email.
//  2. Verify password hash using Bcrypt.
//  3. Generate short-lived JWT access token.
//  4. Generate opaque refresh token and persist its session.
func (service *Service) Login(ctx context.Context, input LoginInput) (*LoginSession, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	// Return a generic unauthorized error for both unknown-email and
	// wrong-password to prevent account enumeration.
	user, err := service.userRepository.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid login credentials").WithCode("unauthenticated")
	}

	// Bcrypt comparison is constant-time against timing attacks.
	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Invalid login credentials").WithCode("unauthenticated")
	}

	return service.issueSession(ctx, user, input.UserAgent, input.IPAddress)
}

// issueSession mints an access token and a tracked refresh-token session.
func (service *Service) issueSession(ctx context.Context, user *User, userAgent, ipAddress string) (*LoginSession, error) {
	accessToken, err := service.tokenProvider.GenerateAccessToken(user.Identity(), constants.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	refreshToken, err := sec.GenerateSecureToken(32)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	expiresAt := time.Now().Add(constants.RefreshTokenTTL)
	session := &Session{
		ID:        uuidv7.New(),
		UserID:    user.ID,
		TokenHash: sec.HashToken(refreshToken),
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: expiresAt,
		IsRevoked: false,
	}

	if err := service.sessionRepository.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("auth_service_session_creation_failed: %w", err)
	}

	return &LoginSession{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: expiresAt,
		User:                  user,
	}, nil
}

// Me resolves the profile for an authenticated user ID.
func (service *Service) Me(ctx context.Context, userID string) (*User, error) {
	user, err := service.userRepository.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.Unauthorized("Account not found or suspended").WithCode("unauthenticated")
	}
	return user, nil
}

// Logout revokes the presented access token and, when provided, the
// refresh-token session.
//
// The access token goes into the blacklist until its original expiry so it
// stops working immediately; revoking the session prevents minting new pairs.
// Logout is idempotent: an unknown refresh token is still a successful logout.
func (service *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if claims, err := service.tokenProvider.VerifyToken(accessToken); err == nil {
		if err := service.blacklist.Add(ctx, accessToken, claims.ExpiresAt.Time); err != nil {
			return fmt.Errorf("auth_service_logout_blacklist_failed: %w", err)
		}
	}

	if refreshToken == "" {
		return nil
	}

	session, err := service.sessionRepository.FindByTokenHash(ctx, sec.HashToken(refreshToken))
	if err != nil {
		return nil
	}

	if err := service.sessionRepository.Revoke(ctx, session.ID); err != nil {
		return fmt.Errorf("auth_service_logout_failed: %w", err)
	}

	return nil
}

// RefreshSession implements the Refresh Token Rotation mechanism.
//
// It verifies the existing refresh token, revokes it to prevent reuse
// (preventing replay attacks), and issues a fresh pair of tokens.
func (service *Service) RefreshSession(ctx context.Context, refreshToken, userAgent, ipAddress string) (*LoginSession, error) {
	session, err := service.sessionRepository.FindByTokenHash(ctx, sec.HashToken(refreshToken))
	if err != nil {
		// The token is either expired, already revoked, or completely invalid.
		return nil, apperr.Unauthorized("Invalid or expired refresh token").WithCode("unauthenticated")
	}

	if err := service.sessionRepository.Revoke(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_revoke_failed: %w", err)
	}

	user, err := service.userRepository.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("Account not found or suspended").WithCode("unauthenticated")
	}

	return service.issueSession(ctx, user, userAgent, ipAddress)
}
