package messages

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/pkg/response"
)

// SendRequest is the body for POST /messages.
type SendRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id" binding:"required"`
	Message    string    `json:"message" binding:"required"`
}

// EditRequest is the body for PATCH /messages/:id.
type EditRequest struct {
	Message string `json:"message" binding:"required"`
}

// Handler handles messaging HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a messages handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func uuidParam(c *gin.Context, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

// Contacts handles GET /messages/contacts.
func (h *Handler) Contacts(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	list, err := h.svc.Contacts(c.Request.Context(), ident)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to list contacts")
		return
	}
	response.OK(c, list)
}

// Unread handles GET /messages/unread.
func (h *Handler) Unread(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	sum, err := h.svc.UnreadCounts(c.Request.Context(), ident)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to count unread messages")
		return
	}
	response.OK(c, sum)
}

// Conversation handles GET /messages/with/:userId?limit=50&before=RFC3339.
func (h *Handler) Conversation(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	other, ok := uuidParam(c, "userId", "invalid user id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.BadRequest(c, "before must be an RFC 3339 timestamp")
			return
		}
		before = &t
	}
	list, err := h.svc.Conversation(c.Request.Context(), ident, other, limit, before)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to load conversation")
		return
	}
	response.OK(c, list)
}

// Send handles POST /messages.
func (h *Handler) Send(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.Send(c.Request.Context(), ident, req.ReceiverID, req.Message)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to send message")
		return
	}
	response.Created(c, m)
}

// Edit handles PATCH /messages/:id.
func (h *Handler) Edit(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := uuidParam(c, "id", "invalid message id")
	if !ok {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.Edit(c.Request.Context(), ident, id, req.Message)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to edit message")
		return
	}
	response.OK(c, m)
}

// Delete handles DELETE /messages/:id.
func (h *Handler) Delete(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := uuidParam(c, "id", "invalid message id")
	if !ok {
		return
	}
	m, err := h.svc.Delete(c.Request.Context(), ident, id)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete message")
		return
	}
	response.OK(c, m)
}

// MarkSeen handles POST /messages/:id/seen.
func (h *Handler) MarkSeen(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := uuidParam(c, "id", "invalid message id")
	if !ok {
		return
	}
	m, err := h.svc.MarkSeen(c.Request.Context(), ident, id)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to mark message seen")
		return
	}
	response.OK(c, m)
}
