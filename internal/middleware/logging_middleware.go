// internal/middleware/logging_middleware.go
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"link-service/internal/utils"
)

// LoggingMiddleware logs every API request. Probe endpoints are skipped
// unless they fail.
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status < 400 && isProbe(c.Request.URL.Path) {
			return
		}

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			status,
			time.Since(startTime),
		)
	}
}

func isProbe(path string) bool {
	return path == "/live" || path == "/ready" || strings.HasPrefix(path, "/swagger/")
}
