package middleware

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// CustomLoggerMiddleware logs HTTP requests in simple text format to stdout.
func CustomLoggerMiddleware() gin.HandlerFunc {
	return AccessLog(os.Stdout)
}

// AccessLog writes one line per request to out.
func AccessLog(out io.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		fmt.Fprintf(out, "[API] %s | %s | %d | %s | %s\n",
			c.Request.Method,
			path,
			c.Writer.Status(),
			latency.String(),
			c.ClientIP(),
		)
	}
}
