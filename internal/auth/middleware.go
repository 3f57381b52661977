package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUser is the key for storing the authenticated user in gin context
	ContextKeyUser = "authUser"
	// ContextKeyToken is the key for storing the validated token in gin context
	ContextKeyToken = "authToken"
)

// Middleware extracts and validates the bearer token from the request.
// Sets the user and token in context if valid; never rejects by itself.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}

		if raw != "" {
			user, token, err := m.ValidateToken(c.Request.Context(), raw)
			if err == nil {
				c.Set(ContextKeyUser, user)
				c.Set(ContextKeyToken, token)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyUser); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required. Include 'Authorization: Bearer tk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin middleware requires auth AND the admin flag
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required.",
			})
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Administrator access required.",
			})
			return
		}
		c.Next()
	}
}

// GetUser returns the authenticated user from context
func GetUser(c *gin.Context) (*User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// GetToken returns the validated token from context
func GetToken(c *gin.Context) (*Token, bool) {
	v, exists := c.Get(ContextKeyToken)
	if !exists {
		return nil, false
	}
	t, ok := v.(*Token)
	return t, ok
}

// CurrentUserID returns the authenticated user's ID, or "" if anonymous
func CurrentUserID(c *gin.Context) string {
	u, ok := GetUser(c)
	if !ok {
		return ""
	}
	return u.ID
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyUser)
	return exists
}
