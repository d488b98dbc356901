package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is where DeviceAuth stores the verified claims.
const ContextKey = "claims"

// DeviceAuth enforces bearer access tokens signed by issuer.
func DeviceAuth(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := issuer.Parse(tokenStr, KindAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ContextKey, claims)
		c.Next()
	}
}

// DeviceID returns the subject of the verified token, if any.
func DeviceID(c *gin.Context) string {
	if v, ok := c.Get(ContextKey); ok {
		if claims, ok := v.(Claims); ok {
			return claims.Subject
		}
	}
	return ""
}
