// Package middleware holds gin middleware shared by the HTTP server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// RequestLogger logs each request once it completes. Paths in skip are not
// logged. Mux responses stream for the life of the mux, so duration covers
// the whole stream.
func RequestLogger(log hclog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"size", c.Writer.Size(),
			"duration", time.Since(start).String(),
			"ip", c.ClientIP(),
		)
	}
}

// ErrorLogger logs errors handlers attached to the gin context
func ErrorLogger(log hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			log.Error("request error",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err.Err,
			)
		}
	}
}
