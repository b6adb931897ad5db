package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// Recovery turns a handler panic into a JSON:API 500 document carrying the
// correlation id. Panics caused by a client that went away are only logged,
// and http.ErrAbortHandler is passed on to net/http.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			attrs := []any{
				"error", fmt.Sprint(r),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"correlation_id", GetCorrelationID(c),
			}
			if clientGone(r) {
				logger.Warn("Client connection lost while writing response", attrs...)
				c.Abort()
				return
			}

			metrics.HTTPPanics.WithLabelValues(route).Inc()
			logger.Error("Panic recovered", append(attrs, "stack", string(debug.Stack()))...)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			abort(c, http.StatusInternalServerError, string(shared.KindInternal), "An internal server error occurred")
		}()

		c.Next()
	}
}

// clientGone reports whether the panic value is a write error on a closed
// client connection.
func clientGone(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return errors.Is(opErr, syscall.EPIPE) || errors.Is(opErr, syscall.ECONNRESET)
}
