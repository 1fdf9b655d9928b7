package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/config"
	"neuralnexus/internal/domain"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	return m
}

func requestWith(header string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return r
}

func TestManager_IssueAndVerify(t *testing.T) {
	m := newManager(t)
	user := &domain.User{ID: "user-1", Role: domain.RoleAdmin}

	token, err := m.IssueToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), token.ExpiresAt, time.Minute)

	claims, err := m.ParseToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, domain.RoleAdmin, claims.Role)

	userID, err := m.VerifyToken(requestWith("Bearer " + token.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	userID, err = m.VerifyToken(requestWith("bearer " + token.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestManager_VerifyRejects(t *testing.T) {
	m := newManager(t)
	token, err := m.IssueToken(&domain.User{ID: "user-1"})
	require.NoError(t, err)

	other, err := NewManager(config.AuthConfig{JWTSecret: "another-secret"})
	require.NoError(t, err)
	foreign, err := other.IssueToken(&domain.User{ID: "user-1"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + token.AccessToken},
		{"no token", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"foreign secret", "Bearer " + foreign.AccessToken},
		{"alg none", "Bearer " + none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.VerifyToken(requestWith(tt.header))
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestManager_Expired(t *testing.T) {
	m := newManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.IssueToken(&domain.User{ID: "user-1"})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ParseToken(token.AccessToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager(config.AuthConfig{})
	assert.ErrorIs(t, err, domain.ErrConfig)

	m, err := NewManager(config.AuthConfig{JWTSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, m.ttl)
}
