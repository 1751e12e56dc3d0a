// internal/middleware/recovery_middleware.go
package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"link-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. The link
// manager recovers its own transport panics, so anything reaching here is a
// handler bug. Responses that already started, such as an upgraded log
// feed, are aborted without writing a second body.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	// gin would print the stack to stderr as well; zap carries it instead.
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		written := c.Writer.Written()
		logger.Error("Panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.String("request_id", c.GetString(utils.RequestIDKey)),
			zap.Bool("response_started", written),
			zap.Stack("stacktrace"),
		)

		if written {
			c.Abort()
			return
		}
		utils.CodedErrorResponse(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error", nil)
		c.Abort()
	})
}
