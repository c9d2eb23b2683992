package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lzhao-dev/school-records-api/internal/service"
)

// Metrics observes every request against the Prometheus registry. The
// scrape endpoint itself is left out so scraping does not inflate the
// request series.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
