package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/platform/metrics"
)

// Metrics records request counts and latencies by route template, so ids
// in paths do not blow up label cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
