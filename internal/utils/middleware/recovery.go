package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	apperrors "github.com/mailcraft/server/internal/utils/errors"
	"go.uber.org/zap"
)

// Recovery returns a middleware that turns panics into a 500.
// A nil log discards the panic details.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered",
					zap.String("error", fmt.Sprint(err)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", GetRequestID(c)),
					zap.Stack("stack"),
				)

				abort(c, apperrors.Internal("internal server error", nil))
			}
		}()
		c.Next()
	}
}
