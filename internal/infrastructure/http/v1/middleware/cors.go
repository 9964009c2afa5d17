package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows browser clients from origins. "*" allows any origin; an empty
// list disables cross-origin access.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	cfg := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowMethods("DELETE")
	cfg.AddAllowHeaders(HeaderIdempotencyKey, HeaderClientID, HeaderRequestID, HeaderTraceID)
	cfg.AddExposeHeaders(HeaderRequestID, HeaderTraceID)
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}
