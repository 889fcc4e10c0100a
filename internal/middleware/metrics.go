package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/metrics"
)

// Observe records request latency and writes an access log line.
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		elapsed := time.Since(start)
		m.ObserveHTTP(c.Request.Method, path, status, elapsed)
		logutil.GetLogger(c.Request.Context()).Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("status", status),
			zap.String("request_id", c.GetString(RequestIDHeader)),
			zap.Duration("elapsed", elapsed),
		)
	}
}
