package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware counting admin requests
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if metrics == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.AdminRequests.WithLabelValues(path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Timer measures call duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		method:  method,
	}
}

// Stop records the call with its final status and body size
func (t *Timer) Stop(status int, size int64) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordCall(t.method, status, duration, size)
	return duration
}
