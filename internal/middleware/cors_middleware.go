// internal/middleware/cors_middleware.go
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"link-service/internal/config"
)

// corsMaxAge lets an operator console cache the preflight for its session
const corsMaxAge = 12 * time.Hour

// CORSMiddleware lets browser consoles drive the link. Origins are matched
// with the same rule the log feed uses for WebSocket upgrades; credentials
// are only allowed once origins are pinned.
func CORSMiddleware(security *config.SecurityConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        corsMaxAge,
	}

	if len(security.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOriginFunc = security.OriginAllowed
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}
