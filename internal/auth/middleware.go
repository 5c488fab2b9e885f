package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey avoids collisions in gin's context store.
type ContextKey string

// IdentityKey is where the verified identity lives in the request context.
const IdentityKey ContextKey = "auth_identity"

// Middleware guards control-surface routes. With enabled false every check
// passes, which is how embedded and test setups run.
type Middleware struct {
	service *Service
	enabled bool
}

func NewMiddleware(service *Service, enabled bool) *Middleware {
	return &Middleware{service: service, enabled: enabled}
}

// GinAuth verifies the bearer token and attaches the identity.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		id, err := m.authenticate(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		c.Set(string(IdentityKey), id)
		c.Next()
	}
}

// GinRequireAdmin rejects callers without the admin role. It must run after
// GinAuth.
func (m *Middleware) GinRequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		v, exists := c.Get(string(IdentityKey))
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		id, ok := v.(*Identity)
		if !ok || !id.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Admin role required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *Middleware) authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return m.service.Verify(parts[1])
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		_, id, err := m.service.Login(r.Context(), LoginRequest{Username: username, Password: password})
		return id, err
	}
	return nil, ErrInvalidCredentials
}
