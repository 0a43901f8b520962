package rewards

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultIdentityHeader is the gateway header carrying the authenticated user id.
const DefaultIdentityHeader = "X-User-ID"

const userIDKey = "user_id"

// Identity resolves the caller from header and stores it on the gin context.
// Requests without an identity are rejected with 401.
func Identity(header string) gin.HandlerFunc {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "missing " + header + " header",
				"timestamp": time.Now().UTC(),
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the caller resolved by Identity, or "" outside it.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RequireAdmin lets through only callers listed in adminUserIDs. With an
// empty list every caller is refused.
func RequireAdmin(adminUserIDs []string) gin.HandlerFunc {
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if _, ok := admins[UserID(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":     "admin access required",
				"timestamp": time.Now().UTC(),
			})
			return
		}
		c.Next()
	}
}
