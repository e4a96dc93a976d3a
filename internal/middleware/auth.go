package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jobforge/jobforge/internal/auth"
)

// BearerAuth validates the admin surface's JWT bearer token and sets
// owner/is_admin in the request context for downstream handlers.
func BearerAuth(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := manager.Validate(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("owner", claims.Owner)
		c.Set("is_admin", claims.IsAdmin)
		c.Next()
	}
}

// RequireAdmin rejects non-admin callers, for operations restricted
// to admins.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := c.Get("is_admin")
		if admin, ok := isAdmin.(bool); !ok || !admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Owner reads the authenticated caller's owner from the request
// context, used by handlers to scope non-admin visibility.
func Owner(c *gin.Context) string {
	owner, _ := c.Get("owner")
	s, _ := owner.(string)
	return s
}

// IsAdmin reads the authenticated caller's admin flag from the request
// context.
func IsAdmin(c *gin.Context) bool {
	isAdmin, _ := c.Get("is_admin")
	admin, _ := isAdmin.(bool)
	return admin
}
