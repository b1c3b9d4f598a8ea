// Package middleware holds the ambient gin middleware shared across the
// core's HTTP surface — CORS, request logging, and panic recovery, kept
// verbatim in shape from the teacher's middleware.go. The teacher's
// user/SSO auth middleware (AuthMiddleware, RequireRole, SSO*,
// RequireServicePermission) has no counterpart here: NightWatch's only
// authenticated surface is the probe protocol, and that auth lives next
// to the routes it guards in pkg/probeproto.requireProbeToken rather
// than as a reusable gin.HandlerFunc, since only one route group needs
// it.
package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS headers for the control-plane HTTP surface.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests in the teacher's combined-log
// format.
func LoggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}

// RecoveryMiddleware handles panics.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}
