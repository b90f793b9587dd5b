package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KeyNameContextKey is the gin context key holding the authenticated key name.
const KeyNameContextKey = "auth_key_name"

// Middleware provides API key authentication for gin handlers. Keys are
// accepted from the x-api-key header or the api_key query parameter.
type Middleware struct {
	service *Service
	enabled bool
}

func NewMiddleware(service *Service, enabled bool) *Middleware {
	return &Middleware{service: service, enabled: enabled}
}

// RequestKey extracts the API key from a request.
func RequestKey(r *http.Request) string {
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

// GinAuth returns a gin middleware that rejects requests without a valid key.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		key := RequestKey(c.Request)
		ok, err := m.service.Validate(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "auth_store_error",
				"message": "Authentication backend unavailable",
			})
			c.Abort()
			return
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Invalid credentials",
			})
			c.Abort()
			return
		}

		c.Set(KeyNameContextKey, key)
		c.Next()
	}
}

// GinRequireAdmin returns a gin middleware that additionally requires the
// key's admin flag. Used for key management endpoints.
func (m *Middleware) GinRequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		key := RequestKey(c.Request)
		admin, err := m.service.IsAdmin(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "auth_store_error",
				"message": "Authentication backend unavailable",
			})
			c.Abort()
			return
		}
		if !admin {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Admin key required",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
