package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/jwt"
	"signaling-backend/pkg/response"
)

// AuthMiddleware validates a JWT from the Authorization header or, for
// browser WebSocket handshakes that cannot set headers, the token query
// parameter. On success it sets user_id and role in the Gin context.
// With required false, requests without a token pass through anonymously;
// a token that is present but invalid is always rejected.
func AuthMiddleware(jwtManager *jwt.JWTManager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}
		if tokenString == "" || jwtManager == nil {
			if required {
				response.Unauthorized(c, "Authorization required")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if jwt.IsExpiredError(err) {
				response.FromError(c, apperrors.ExpiredTokenError())
			} else {
				response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			}
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", apperrors.UnauthorizedError("Invalid authorization header format")
		}
		return parts[1], nil
	}
	return c.Query("token"), nil
}
