package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles. Must run after RequireApproved,
// so the decision uses the cached role rather than the one frozen into the token.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		ident, ok := identity.FromContext(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[ident.Role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin allows the administrator class only.
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.AdminRoles...)
}

// RequireStaff allows administrators and portfolio managers.
func RequireStaff() gin.HandlerFunc {
	return RequireRole(append([]models.Role{models.RolePortfolioManager}, models.AdminRoles...)...)
}
