package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gannportal/internal/model"
)

// CookieName is the httpOnly cookie carrying the signed token.
const CookieName = "auth-token"

// ErrInvalidToken covers expired, malformed, or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid auth token")

// Claims is the JWT payload. SessionID references the server-side Redis
// session, so a logout invalidates the token before its expiry.
type Claims struct {
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	SessionID string     `json:"sid"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies auth cookie JWTs with a shared HMAC
// secret.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a token manager. ttl bounds token lifetime and
// matches the cookie max-age.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// TTL returns the configured token lifetime.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Sign issues a token for an authenticated session.
func (m *TokenManager) Sign(sess model.Session) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    sess.UserID,
		Username:  sess.Username,
		Email:     sess.Email,
		Role:      sess.Role,
		SessionID: sess.Token,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string, rejecting any signing method
// other than HS256.
func (m *TokenManager) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
