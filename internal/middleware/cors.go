package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LocalDashboardOrigin is the dashboard dev server.
const LocalDashboardOrigin = "http://localhost:5173"

// CORSMiddleware allows the dashboard at origin to call the API.
func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = LocalDashboardOrigin
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight request
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}
