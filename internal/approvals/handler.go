package approvals

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/pkg/response"
)

// Handler handles the admin approval endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an approvals handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ListPending handles GET /users/pending.
func (h *Handler) ListPending(c *gin.Context) {
	list, err := h.svc.ListPending(c.Request.Context())
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to list pending users")
		return
	}
	response.OK(c, list)
}

// Approve handles POST /users/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, DecisionApprove)
}

// Reject handles POST /users/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, DecisionReject)
}

func (h *Handler) decide(c *gin.Context, d Decision) {
	actor, _ := identity.FromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	u, err := h.svc.SetUserStatus(c.Request.Context(), actor, id, d)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update user status")
		return
	}
	if u == nil {
		response.OK(c, gin.H{"id": id, "status": d})
		return
	}
	response.OK(c, u)
}

// Remove handles DELETE /users/:id.
func (h *Handler) Remove(c *gin.Context) {
	actor, _ := identity.FromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if err := h.svc.RemoveUser(c.Request.Context(), actor, id); err != nil {
		apperr.Respond(c, h.logger, err, "failed to remove user")
		return
	}
	response.NoContent(c)
}
