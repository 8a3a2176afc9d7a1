// Package auth mints the bearer tokens the synchronizers attach to
// remote requests.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTTL keeps minted tokens short-lived; a fresh one is minted per
// sync cycle.
const defaultTTL = 5 * time.Minute

// Claims carries the client identity alongside the registered claims.
type Claims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// TokenSource mints HS256 tokens for one user/client pair.
type TokenSource struct {
	secret   []byte
	userID   string
	clientID string
	ttl      time.Duration
}

// NewTokenSource creates a token source. ttl <= 0 selects the default.
func NewTokenSource(secret, userID, clientID string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TokenSource{
		secret:   []byte(secret),
		userID:   userID,
		clientID: clientID,
		ttl:      ttl,
	}
}

// Token mints a fresh signed token. Matches the syncer's TokenFunc shape.
func (t *TokenSource) Token(_ context.Context) (string, error) {
	now := time.Now()
	claims := &Claims{
		ClientID: t.clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "wardnote",
			Subject:   t.userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token minted by a source sharing the
// same secret. Used by tests and local tooling; the server does its own
// verification.
func Validate(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.ClientID == "" {
		return nil, fmt.Errorf("missing cid (client ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}
