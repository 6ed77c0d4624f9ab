package groups

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/response"
	"github.com/mariantrack/backend/pkg/storage"
)

// CreateGroupRequest is the body for POST /groups.
type CreateGroupRequest struct {
	Name               string    `json:"name" binding:"required"`
	Description        string    `json:"description"`
	PortfolioManagerID uuid.UUID `json:"portfolio_manager_id" binding:"required"`
}

// UpdateGroupRequest is the body for PATCH /groups/:id.
type UpdateGroupRequest struct {
	Name               *string    `json:"name"`
	Description        *string    `json:"description"`
	PortfolioManagerID *uuid.UUID `json:"portfolio_manager_id"`
}

// AddMemberRequest is the body for POST /groups/:id/members.
type AddMemberRequest struct {
	UserID    uuid.UUID `json:"user_id" binding:"required"`
	GroupRole string    `json:"group_role" binding:"required"`
}

// Handler handles group HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a groups handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func groupID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid group id")
		return uuid.Nil, false
	}
	return id, true
}

// List handles GET /groups?archived=true.
func (h *Handler) List(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	list, err := h.svc.List(c.Request.Context(), ident, c.Query("archived") == "true")
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to list groups")
		return
	}
	response.OK(c, list)
}

// Get handles GET /groups/:id.
func (h *Handler) Get(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.svc.Get(c.Request.Context(), ident, id)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to get group")
		return
	}
	response.OK(c, g)
}

// Create handles POST /groups.
func (h *Handler) Create(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	g, err := h.svc.Create(c.Request.Context(), ident, CreateInput{
		Name:               req.Name,
		Description:        req.Description,
		PortfolioManagerID: req.PortfolioManagerID,
	})
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to create group")
		return
	}
	response.Created(c, g)
}

// Update handles PATCH /groups/:id.
func (h *Handler) Update(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	g, err := h.svc.Update(c.Request.Context(), ident, id, Update{
		Name:               req.Name,
		Description:        req.Description,
		PortfolioManagerID: req.PortfolioManagerID,
	})
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update group")
		return
	}
	response.OK(c, g)
}

// UploadImage handles POST /groups/:id/image (multipart field "image").
func (h *Handler) UploadImage(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	// leave headroom for multipart framing
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxImageFileSize+1<<20)
	fh, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.TooLarge(c, "image must be 5MB or smaller")
			return
		}
		response.BadRequest(c, "image file is required")
		return
	}
	if fh.Size > storage.MaxImageFileSize {
		response.TooLarge(c, "image must be 5MB or smaller")
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if !storage.ValidateImageFileType(contentType, fh.Filename) {
		response.BadRequest(c, "unsupported image type; use jpeg, png, webp or gif")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "cannot read uploaded file")
		return
	}
	defer f.Close()

	g, err := h.svc.UploadImage(c.Request.Context(), ident, id, fh.Filename, contentType, f, fh.Size)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to upload group image")
		return
	}
	response.OK(c, g)
}

// Archive handles POST /groups/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	h.setArchived(c, true)
}

// Unarchive handles POST /groups/:id/unarchive.
func (h *Handler) Unarchive(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *Handler) setArchived(c *gin.Context, archived bool) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	g, err := h.svc.SetArchived(c.Request.Context(), ident, id, archived)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update group")
		return
	}
	response.OK(c, g)
}

// Delete handles DELETE /groups/:id.
func (h *Handler) Delete(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ident, id); err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete group")
		return
	}
	response.NoContent(c)
}

// AddMember handles POST /groups/:id/members.
func (h *Handler) AddMember(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	g, err := h.svc.AddMember(c.Request.Context(), ident, id, req.UserID, models.GroupRole(req.GroupRole))
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to add member")
		return
	}
	response.OK(c, g)
}

// RemoveMember handles DELETE /groups/:id/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := groupID(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	g, err := h.svc.RemoveMember(c.Request.Context(), ident, id, userID)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to remove member")
		return
	}
	response.OK(c, g)
}
