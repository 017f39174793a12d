// auth.go provides bearer token authentication for organization-admin routes.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/auth"
)

// ClaimsKey is the gin.Context key holding the verified *auth.Claims.
const ClaimsKey = "claims"

// TokenVerifier validates a session token
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// BearerAuthMiddleware requires a valid session token in the Authorization
// header. Every failure is a 401 with the same body so callers cannot tell
// an expired token from a forged one.
func BearerAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, "Not authenticated")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil || claims == nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the claims set by BearerAuthMiddleware, or nil.
func ClaimsFromContext(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
}
