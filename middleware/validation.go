package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"applypilot/utils"
)

// MaxRequestSize caps the request body size.
func MaxRequestSize(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// ValidateJSON rejects write requests whose body is not declared as
// JSON. Reads and bodyless requests pass through, so the decline and
// retry endpoints work without a payload.
func ValidateJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case "GET", "DELETE", "OPTIONS", "HEAD":
			c.Next()
			return
		}

		if c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		contentType := c.GetHeader("Content-Type")
		if !strings.Contains(contentType, "application/json") {
			utils.BadRequestError(c, "Content-Type must be application/json", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
