package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/logger"
)

// Logger middleware logs HTTP request details including method, path,
// status, latency, client IP, and correlation ID if present. Client errors
// are logged at warn level and server errors at error level.
func Logger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}
		if actor, ok := lookupActor(c); ok {
			attrs = append(attrs, "actor", string(actor.Type))
		}
		logger.FromContext(c.Request.Context(), log).Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}
