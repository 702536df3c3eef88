package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/mailcraft/server/internal/utils/errors"
)

// BodyLimit caps the request body at limit bytes. Reads past the cap fail,
// and a declared Content-Length above it is rejected up front.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			abort(c, apperrors.New("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, nil))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
