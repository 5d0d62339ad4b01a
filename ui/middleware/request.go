package middleware

import (
	"time"

	"vitalsdash/domain/core"
	"vitalsdash/internal"

	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-Id"

// EnsureRequestID reuses an incoming X-Request-Id or assigns a fresh one
func EnsureRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = core.NewID().String()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request. Server errors log at warn level.
func RequestLogger(logger *internal.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.
			WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration", time.Since(start).String())
		if id, ok := c.Get("request_id"); ok {
			entry = entry.WithField("request_id", id)
		}

		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
