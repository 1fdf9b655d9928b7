// Package auth выдает и проверяет JWT токены доступа.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"neuralnexus/internal/config"
	"neuralnexus/internal/domain"
)

const issuer = "neural-nexus"

// Claims содержимое токена. Subject хранит id пользователя.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token выданный токен доступа
type Token struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is empty: %w", domain.ErrConfig)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(cfg.JWTSecret), ttl: ttl, now: time.Now}, nil
}

// IssueToken подписывает токен HS256 для пользователя
func (m *Manager) IssueToken(user *domain.User) (*Token, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{AccessToken: signed, ExpiresAt: expires}, nil
}

// ParseToken проверяет подпись, алгоритм и срок действия
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	return claims, nil
}

// VerifyToken возвращает id пользователя из заголовка Authorization: Bearer <token>
func (m *Manager) VerifyToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: no authorization header", domain.ErrUnauthorized)
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.Join(domain.ErrUnauthorized, errors.New("malformed authorization header"))
	}

	claims, err := m.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
