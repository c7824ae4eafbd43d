package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"users-api/internal/auth"
)

const subjectContextKey = "subject"

func SubjectFromContext(c *gin.Context) (string, bool) {
	subject, ok := c.Get(subjectContextKey)
	if !ok {
		return "", false
	}
	value, ok := subject.(string)
	return value, ok && value != ""
}

// BearerToken extracts the token from "Authorization: Bearer <token>", falling
// back to the token query parameter for websocket clients.
func BearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid token. With auth disabled in
// cfg every request passes.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.Next()
			return
		}

		claims, err := auth.ParseToken(BearerToken(c), cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Invalid authentication token"})
			return
		}

		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	}
}
