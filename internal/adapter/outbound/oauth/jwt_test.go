package oauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager(t *testing.T) {
	userID := uuid.New()
	m := NewJWTManager(JWTConfig{Secret: "test-secret", AccessTokenExpiry: time.Minute})

	t.Run("round trip", func(t *testing.T) {
		token, expiresAt, err := m.GenerateAccessToken(userID, "owner@example.com")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

		claims, err := m.ValidateAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, "owner@example.com", claims.Email)
	})

	t.Run("other secret", func(t *testing.T) {
		token, _, err := NewJWTManager(JWTConfig{Secret: "other"}).GenerateAccessToken(userID, "")
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewJWTManager(JWTConfig{Secret: "test-secret", AccessTokenExpiry: time.Minute}).(*jwtManager)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.GenerateAccessToken(userID, "")
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("unsigned algorithm rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    "mailcraft",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("missing secret", func(t *testing.T) {
		empty := NewJWTManager(JWTConfig{})
		_, _, err := empty.GenerateAccessToken(userID, "")
		assert.Error(t, err)
		_, err = empty.ValidateAccessToken("x.y.z")
		assert.Error(t, err)
	})
}
