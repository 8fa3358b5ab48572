package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/auditoryx/booking-core/internal/accounts"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAccountID is the key for storing the authenticated account ID
	ContextKeyAccountID = "authAccountID"
)

// Middleware extracts and validates API key from request.
// Sets apiKey and authAccountID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyAccountID, key.AccountID)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole middleware requires auth AND a specific account role.
func RequireRole(role accounts.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		if key.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "This operation requires the " + string(role) + " role.",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin is shorthand for RequireRole(accounts.RoleAdmin).
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(accounts.RoleAdmin)
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	k, ok := key.(*APIKey)
	return k, ok
}

// GetAuthenticatedAccount returns the authenticated account's ID
func GetAuthenticatedAccount(c *gin.Context) string {
	id, exists := c.Get(ContextKeyAccountID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
