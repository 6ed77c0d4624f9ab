package notifications

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/pkg/response"
)

// IDsRequest optionally scopes bulk operations to the notifications the client has loaded.
type IDsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// Handler handles notification HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /notifications?unread=true&limit=50.
func (h *Handler) List(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.svc.List(c.Request.Context(), ident.ID, c.Query("unread") == "true", limit)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to list notifications")
		return
	}
	response.OK(c, list)
}

// UnreadCount handles GET /notifications/unread-count.
func (h *Handler) UnreadCount(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	n, err := h.svc.UnreadCount(c.Request.Context(), ident.ID)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to count notifications")
		return
	}
	response.OK(c, gin.H{"unread": n})
}

// MarkRead handles PATCH /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	n, err := h.svc.MarkRead(c.Request.Context(), ident.ID, id)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to mark notification read")
		return
	}
	response.OK(c, n)
}

// MarkAllRead handles POST /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	var req IDsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	n, err := h.svc.MarkAllRead(c.Request.Context(), ident.ID, req.IDs)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to mark notifications read")
		return
	}
	response.OK(c, gin.H{"updated": n})
}

// DeleteAll handles POST /notifications/delete-all.
func (h *Handler) DeleteAll(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	var req IDsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	n, err := h.svc.DeleteAll(c.Request.Context(), ident.ID, req.IDs)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete notifications")
		return
	}
	response.OK(c, gin.H{"deleted": n})
}

// Delete handles DELETE /notifications/:id.
func (h *Handler) Delete(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ident.ID, id); err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete notification")
		return
	}
	response.NoContent(c)
}
