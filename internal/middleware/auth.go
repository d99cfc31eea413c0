package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rdrelay/internal/session"
)

const connectionIDContextKey = "connectionID"

func ConnectionIDFromContext(c *gin.Context) (string, bool) {
	id, ok := c.Get(connectionIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := id.(string)
	return value, ok && value != ""
}

// RequireSession guards the REST API with a bearer token minted at
// authentication time. The token must verify and must still name a live
// session; a token for an invalidated session is rejected.
func RequireSession(sessions *session.Manager, cfg session.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			// Open broker: no users configured, no tokens to check.
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := session.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}
		connID, ok := sessions.Validate(claims.SessionID)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			c.Abort()
			return
		}

		c.Set(connectionIDContextKey, connID)
		c.Next()
	}
}
