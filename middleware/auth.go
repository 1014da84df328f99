package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"applypilot/services"
	"applypilot/utils"
)

// OperatorKey is the context key the auth middleware stores the
// authenticated operator email under.
const OperatorKey = "operator_email"

// RequireAuth validates the bearer token on every request and stores the
// operator identity in the request context.
func RequireAuth(tokens *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			utils.UnauthorizedError(c, "Authorization header required")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			utils.UnauthorizedError(c, "Authorization header must use the Bearer scheme")
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			utils.UnauthorizedError(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(OperatorKey, claims.Email)
		c.Next()
	}
}
