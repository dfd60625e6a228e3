package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"relaybox.app/relay/common/logger"
)

// Query parameters that carry session keys; they are redacted in access logs.
var sensitiveParams = []string{"sessionKey", "session_key"}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			query := c.Request.URL.Query()
			for _, p := range sensitiveParams {
				if v := query.Get(p); v != "" {
					query.Set(p, logger.RedactKey(v))
				}
			}
			path = path + "?" + query.Encode()
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		ctx := c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
