// Package auth issues and validates the bearer tokens the admin
// surface uses to authorize Control Plane calls, carrying an owner
// and an is_admin scope rather than a full user/email/role record.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identifies the caller behind a request: Owner scopes
// non-admin visibility to their own jobs, IsAdmin unlocks
// admin-only operations.
type Claims struct {
	Owner   string `json:"owner"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Manager signs and parses Claims with a shared secret.
type Manager struct {
	secret     []byte
	issuer     string
	expiration time.Duration
}

// NewManager builds a Manager from the admin surface's configured
// secret, issuer, and token lifetime.
func NewManager(secret, issuer string, expiration time.Duration) *Manager {
	return &Manager{secret: []byte(secret), issuer: issuer, expiration: expiration}
}

// Issue signs a token for owner, optionally granting admin scope.
func (m *Manager) Issue(owner string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Owner:   owner,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   owner,
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and verifies a bearer token, rejecting anything not
// signed with HMAC under our secret.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
