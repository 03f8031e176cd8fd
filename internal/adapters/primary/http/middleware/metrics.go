package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetrics receives per-request observations.
type HTTPMetrics interface {
	TrackInflight(path string) func()
	ObserveHTTP(path, method string, status int, d time.Duration)
}

// Metrics instruments requests by route pattern, keeping label values bounded.
func Metrics(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		done := m.TrackInflight(path)
		start := time.Now()

		c.Next()

		done()
		m.ObserveHTTP(path, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
