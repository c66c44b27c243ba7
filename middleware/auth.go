package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"cinema-svc/auth"
	"cinema-svc/models"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey    = "user_id"
	userGroupKey = "user_group"

	// WebhookTokenHeader carries the shared secret of the payment gateway.
	WebhookTokenHeader = "X-Gateway-Token"
)

func AuthMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		userID, _ := claims.UserID()

		c.Set(userIDKey, userID)
		c.Set(userGroupKey, claims.Group)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user, if any.
func CurrentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func CurrentGroup(c *gin.Context) models.UserGroup {
	v, _ := c.Get(userGroupKey)
	group, _ := v.(models.UserGroup)
	return group
}

// RequireGroup lets only the listed user groups through.
func RequireGroup(groups ...models.UserGroup) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := CurrentGroup(c)
		for _, g := range groups {
			if g == current {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

// WebhookAuth checks the gateway's shared token. An empty token disables the
// webhook routes.
func WebhookAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(WebhookTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid gateway token"})
			return
		}
		c.Next()
	}
}
