package middleware

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/mailcraft/server/internal/utils/errors"
)

// abort stops the chain and writes err as the standard error body.
func abort(c *gin.Context, err *apperrors.AppError) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
