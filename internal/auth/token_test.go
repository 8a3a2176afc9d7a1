package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenSourceMintsValidToken(t *testing.T) {
	src := NewTokenSource("super-secret", "user-1", "device-1", time.Minute)

	tokenString, err := src.Token(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := Validate("super-secret", tokenString)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-1", claims.ClientID)
	require.Equal(t, "wardnote", claims.Issuer)
	require.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	src := NewTokenSource("super-secret", "user-1", "device-1", time.Minute)

	tokenString, err := src.Token(context.Background())
	require.NoError(t, err)

	_, err = Validate("different-secret", tokenString)
	require.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	src := NewTokenSource("super-secret", "user-1", "device-1", -time.Minute)

	// Negative TTL falls back to the default, so force expiry directly.
	src.ttl = -time.Minute
	tokenString, err := src.Token(context.Background())
	require.NoError(t, err)

	_, err = Validate("super-secret", tokenString)
	require.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := Validate("super-secret", "not.a.jwt")
	require.Error(t, err)
}
