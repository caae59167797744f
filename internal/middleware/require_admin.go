package middleware

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/pkg/auth"

	"github.com/gin-gonic/gin"
)

// RequireAdmin lets through requests whose claims carry the admin scope.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ClaimsFrom(c).HasScope(auth.ScopeAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}
