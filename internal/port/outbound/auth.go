package outbound

import (
	"time"

	"github.com/google/uuid"
)

// JWTPort defines access token operations for the dashboard API.
type JWTPort interface {
	// GenerateAccessToken generates an access token.
	GenerateAccessToken(userID uuid.UUID, email string) (string, time.Time, error)

	// ValidateAccessToken validates an access token.
	ValidateAccessToken(token string) (*JWTClaims, error)
}

// JWTClaims represents JWT token claims.
type JWTClaims struct {
	UserID uuid.UUID
	Email  string
}
