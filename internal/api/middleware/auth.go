package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vpnaccess/internal/auth"
)

// Token headers
const (
	AdminTokenHeader = "X-Admin-Token"
	HookTokenHeader  = "X-Hook-Token"
)

// AdminAuth middleware checks for admin token
func AdminAuth(adminToken string) gin.HandlerFunc {
	return tokenAuth(AdminTokenHeader, adminToken, "Admin token required", "Invalid admin token")
}

// HookAuth middleware checks the token presented by the tunnel daemon's
// connect/disconnect hooks
func HookAuth(hookToken string) gin.HandlerFunc {
	return tokenAuth(HookTokenHeader, hookToken, "Hook token required", "Invalid hook token")
}

func tokenAuth(header, expected, missingMsg, invalidMsg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(header)

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": missingMsg,
			})
			return
		}

		if !auth.TokenMatches(token, expected) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": invalidMsg,
			})
			return
		}

		c.Next()
	}
}
