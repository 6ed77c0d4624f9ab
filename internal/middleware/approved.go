package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/response"
)

// IdentitySource resolves the current identity of a user.
type IdentitySource interface {
	Get(ctx context.Context, id uuid.UUID) (identity.Identity, error)
}

// RequireApproved loads the caller's identity and rejects accounts that are gone or still pending.
// Must run after JWT.
func RequireApproved(src IdentitySource, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.UserID(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		ident, err := src.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				response.Unauthorized(c, "account no longer exists")
			} else {
				logger.Error("load identity failed", zap.Error(err), zap.String("user_id", id.String()))
				response.Internal(c, "failed to load account")
			}
			c.Abort()
			return
		}
		if !ident.Approved() {
			response.Forbidden(c, "account awaiting approval")
			c.Abort()
			return
		}
		c.Set(identity.ContextIdentity, ident)
		c.Next()
	}
}
