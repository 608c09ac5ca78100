package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tansu-cloud/gateway/internal/auth"
)

const ActorKey = "actor"

// AdminAuth guards mutating admin endpoints: the caller needs either a
// bearer token carrying the gateway:admin scope or the break-glass admin API
// key in X-Admin-Key.
func AdminAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-Admin-Key"); key != "" && verifier.CheckAdminKey(key) {
			c.Set(ActorKey, "admin-key")
			c.Next()
			return
		}

		claims, err := verifier.Verify(auth.BearerToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !claims.HasScope(auth.ScopeAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}

		c.Set(ActorKey, claims.Subject)
		c.Next()
	}
}

// Actor returns the authenticated admin identity for audit emission.
func Actor(c *gin.Context) string {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(string); ok {
			return actor
		}
	}
	return "unknown"
}
