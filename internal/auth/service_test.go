// Copyright (c) 2026 Fablio. All rights reserved.
// Author: dev@fablio.app

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablio/fablio/internal/auth"
	"github.com/fablio/fablio/internal/platform/apperr"
	"github.com/fablio/fablio/internal/platform/sec"
)

// ── In-memory fakes ──────────────────────────────────────────────────────────

type fakeUserRepo struct {
	byEmail map[string]*auth.User
	byID    map[string]*auth.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byEmail: map[string]*auth.User{}, byID: map[string]*auth.User{}}
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*auth.User, error) {
	if u, ok := r.byID[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("User")
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("User")
}

func (r *fakeUserRepo) Create(_ context.Context, user *auth.User) error {
	r.byEmail[user.Email] = user
	r.byID[user.ID] = user
	return nil
}

func (r *fakeUserRepo) UpdateTier(_ context.Context, userID, tier string) error {
	if u, ok := r.byID[userID]; ok {
		u.Tier = sec.ParseTier(tier)
	}
	return nil
}

func (r *fakeUserRepo) Deactivate(_ context.Context, id string) error {
	if u, ok := r.byID[id]; ok {
		u.IsActive = false
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
	return nil
}

type fakeSessionRepo struct {
	byHash map[string]*auth.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byHash: map[string]*auth.Session{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *auth.Session) error {
	r.byHash[s.TokenHash] = s
	return nil
}

func (r *fakeSessionRepo) FindByTokenHash(_ context.Context, hash string) (*auth.Session, error) {
	if s, ok := r.byHash[hash]; ok && !s.IsRevoked {
		return s, nil
	}
	return nil, apperr.NotFound("Session")
}

func (r *fakeSessionRepo) Revoke(_ context.Context, sessionID string) error {
	for _, s := range r.byHash {
		if s.ID == sessionID {
			s.IsRevoked = true
		}
	}
	return nil
}

func (r *fakeSessionRepo) RevokeAll(_ context.Context, userID string) error {
	for _, s := range r.byHash {
		if s.UserID == userID {
			s.IsRevoked = true
		}
	}
	return nil
}

func (r *fakeSessionRepo) DeleteExpired(_ context.Context) error { return nil }

// fakeTokens mints predictable tokens and tracks verification results.
type fakeTokens struct{}

func (fakeTokens) GenerateAccessToken(identity sec.Identity, ttl time.Duration) (string, error) {
	return "token-for-" + identity.UserID, nil
}

func (fakeTokens) VerifyToken(tokenString string) (*sec.AuthClaims, error) {
	claims := &sec.AuthClaims{}
	claims.UserID = tokenString[len("token-for-"):]
	claims.ExpiresAt = jwtDate(time.Now().Add(15 * time.Minute))
	return claims, nil
}

func jwtDate(t time.Time) *jwt.NumericDate { return jwt.NewNumericDate(t) }

// fakeBlacklist is an in-memory revocation set honoring expiry semantics.
type fakeBlacklist struct {
	revoked map[string]time.Time
}

func newFakeBlacklist() *fakeBlacklist { return &fakeBlacklist{revoked: map[string]time.Time{}} }

func (b *fakeBlacklist) Add(_ context.Context, token string, expiresAt time.Time) error {
	if time.Until(expiresAt) <= 0 {
		return nil
	}
	b.revoked[token] = expiresAt
	return nil
}

func (b *fakeBlacklist) IsBlacklisted(_ context.Context, token string) bool {
	expiry, ok := b.revoked[token]
	return ok && expiry.After(time.Now())
}

func (b *fakeBlacklist) Remove(_ context.Context, token string) error {
	delete(b.revoked, token)
	return nil
}

func newService() (*auth.Service, *fakeUserRepo, *fakeSessionRepo, *fakeBlacklist) {
	users := newFakeUserRepo()
	sessions := newFakeSessionRepo()
	blacklist := newFakeBlacklist()
	return auth.NewService(users, sessions, fakeTokens{}, blacklist), users, sessions, blacklist
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestRegister_Lifecycle(t *testing.T) {
	service, _, _, _ := newService()
	ctx := context.Background()

	user, err := service.Register(ctx, auth.RegisterInput{Email: "A@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.test", user.Email, "emails are lowercased")
	assert.Equal(t, sec.TierFree, user.Tier)
	assert.False(t, user.IsAdmin)
	assert.NotEqual(t, "Aa1!Aa1!Aa1!", user.PasswordHash)

	// Registering the same email again conflicts.
	_, err = service.Register(ctx, auth.RegisterInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "already_registered", appErr.Code)

	// Login with the same credentials succeeds and Me round-trips the profile.
	session, err := service.Login(ctx, auth.LoginInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	profile, err := service.Me(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, profile.Email)
}

func TestRegister_WeakPasswords(t *testing.T) {
	service, _, _, _ := newService()

	tests := []struct {
		name     string
		password string
	}{
		{"too_short", "Aa1!"},
		{"no_digit", "Abcdefgh!"},
		{"no_letter", "12345678!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), auth.RegisterInput{
				Email:    "weak@x.test",
				Password: tt.password,
			})
			appErr := apperr.As(err)
			require.NotNil(t, appErr)
			assert.Equal(t, "weak_password", appErr.Code)
		})
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	service, _, _, _ := newService()
	ctx := context.Background()

	_, err := service.Register(ctx, auth.RegisterInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)

	// Wrong password and unknown email yield the identical generic error.
	_, errWrongPass := service.Login(ctx, auth.LoginInput{Email: "a@x.test", Password: "wrong-pass-1"})
	_, errUnknown := service.Login(ctx, auth.LoginInput{Email: "nobody@x.test", Password: "Aa1!Aa1!Aa1!"})

	require.Error(t, errWrongPass)
	require.Error(t, errUnknown)
	assert.Equal(t, errWrongPass.Error(), errUnknown.Error(), "no account enumeration")
}

func TestLogout_RevokesAccessToken(t *testing.T) {
	service, _, _, blacklist := newService()
	ctx := context.Background()

	user, err := service.Register(ctx, auth.RegisterInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)
	session, err := service.Login(ctx, auth.LoginInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)

	assert.False(t, blacklist.IsBlacklisted(ctx, session.AccessToken))

	require.NoError(t, service.Logout(ctx, session.AccessToken, session.RefreshToken))
	assert.True(t, blacklist.IsBlacklisted(ctx, session.AccessToken), "access token revoked until expiry")

	// The revoked refresh token can no longer be rotated.
	_, err = service.RefreshSession(ctx, session.RefreshToken, "", "")
	require.Error(t, err)

	// Logout is idempotent.
	require.NoError(t, service.Logout(ctx, "token-for-"+user.ID, session.RefreshToken))
}

func TestRefreshSession_RotatesTokens(t *testing.T) {
	service, _, _, _ := newService()
	ctx := context.Background()

	_, err := service.Register(ctx, auth.RegisterInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)
	first, err := service.Login(ctx, auth.LoginInput{Email: "a@x.test", Password: "Aa1!Aa1!Aa1!"})
	require.NoError(t, err)

	second, err := service.RefreshSession(ctx, first.RefreshToken, "agent", "127.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken, "rotation mints a new refresh token")

	// The consumed refresh token is burned: replay fails.
	_, err = service.RefreshSession(ctx, first.RefreshToken, "agent", "127.0.0.1")
	require.Error(t, err)
}

func TestBlacklist_ExpiredTokenIsNoOp(t *testing.T) {
	blacklist := newFakeBlacklist()
	ctx := context.Background()

	require.NoError(t, blacklist.Add(ctx, "stale", time.Now().Add(-time.Minute)))
	assert.False(t, blacklist.IsBlacklisted(ctx, "stale"), "expired tokens are never stored")
}
