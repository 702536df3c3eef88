package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errToken = errors.New("token expired")

func TestAppError(t *testing.T) {
	t.Run("message with wrapped error", func(t *testing.T) {
		err := Unauthorized("INVALID_TOKEN", "invalid or expired token", errToken)

		assert.Equal(t, "invalid or expired token: token expired", err.Error())
		assert.ErrorIs(t, err, errToken)
		assert.Equal(t, http.StatusUnauthorized, err.StatusCode)
	})

	t.Run("default kinds", func(t *testing.T) {
		assert.ErrorIs(t, Unauthorized("X", "x", nil), ErrUnauthorized)
		assert.ErrorIs(t, Internal("x", nil), ErrInternal)
		assert.Equal(t, "x: internal error", Internal("x", nil).Error())
	})

	t.Run("is matches by code", func(t *testing.T) {
		a := New("RATE_LIMIT_EXCEEDED", "a", http.StatusTooManyRequests, nil)
		b := New("RATE_LIMIT_EXCEEDED", "b", http.StatusTooManyRequests, nil)

		assert.True(t, errors.Is(a, b))
		assert.False(t, errors.Is(a, New("OTHER", "b", http.StatusTooManyRequests, nil)))
		assert.True(t, errors.Is(fmt.Errorf("middleware: %w", a), b))
	})

	t.Run("to response", func(t *testing.T) {
		resp := New("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, nil).ToResponse()

		assert.Equal(t, "PAYLOAD_TOO_LARGE", resp.Error.Code)
		assert.Equal(t, "request body too large", resp.Error.Message)
	})
}
