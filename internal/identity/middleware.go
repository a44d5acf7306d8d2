package identity

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyIdentity is the key for storing the resolved identity in gin context
	ContextKeyIdentity = "identity"
	// ContextKeyToken is the key for storing the raw bearer token
	ContextKeyToken = "sessionToken"
)

// LoginPath is where unauthenticated clients are sent.
const LoginPath = "/login"

// TokenFromRequest returns the bearer token of a request, if any.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return CleanToken(h)
	}
	return ""
}

// Middleware resolves the bearer token and stores the identity in context
// when it is valid. It never rejects a request.
func Middleware(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFromRequest(c); token != "" {
			c.Set(ContextKeyToken, token)
			if ident, err := s.Resolve(c.Request.Context(), token); err == nil {
				c.Set(ContextKeyIdentity, ident)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a resolved identity, pointing the
// client at the sign-in surface.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); !ok {
			Unauthorized(c)
			return
		}
		c.Next()
	}
}

// Unauthorized aborts with 401 and a redirect to LoginPath.
func Unauthorized(c *gin.Context) {
	c.Header("Location", LoginPath)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    "unauthorized",
		"redirect": LoginPath,
	})
}

// GetIdentity returns the identity from context (if authenticated)
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, false
	}
	ident, ok := v.(*Identity)
	return ident, ok
}

// GetToken returns the raw bearer token from context
func GetToken(c *gin.Context) string {
	return c.GetString(ContextKeyToken)
}
