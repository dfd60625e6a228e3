package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireSharedSecret rejects requests whose header does not carry secret.
// Every failure gets the same response; the log line records which check
// failed so operators can tell a missing header from a wrong one.
func RequireSharedSecret(header, secret, realm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if secret == "" {
			slog.ErrorContext(ctx, "shared secret not configured", "realm", realm)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "endpoint not configured",
			})
			return
		}

		presented := c.GetHeader(header)
		if presented == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				presented = auth[7:]
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			reason := "mismatch"
			if presented == "" {
				reason = "missing"
			}
			slog.WarnContext(ctx, "shared secret rejected",
				"realm", realm,
				"reason", reason,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}

		c.Next()
	}
}
