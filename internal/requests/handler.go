package requests

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/pkg/response"
)

// RequestBody is the body for creating or editing a request. date_needed is YYYY-MM-DD.
type RequestBody struct {
	ResponsibleTeamMember  uuid.UUID `json:"responsible_team_member" binding:"required"`
	Description            string    `json:"description" binding:"required"`
	TechnicalRequirement   string    `json:"technical_requirement"`
	DateNeeded             string    `json:"date_needed"`
	ResourceToolNeeded     string    `json:"resource_tool_needed"`
	ProspectResourcePerson string    `json:"prospect_resource_person"`
	PriorityLevel          string    `json:"priority_level" binding:"required"`
	Remarks                string    `json:"remarks"`
}

// StatusBody is the body for PATCH /requests/:id/status.
type StatusBody struct {
	Status string `json:"status" binding:"required"`
}

func (b RequestBody) input() (Input, error) {
	in := Input{
		ResponsibleTeamMember:  b.ResponsibleTeamMember,
		Description:            b.Description,
		TechnicalRequirement:   b.TechnicalRequirement,
		ResourceToolNeeded:     b.ResourceToolNeeded,
		ProspectResourcePerson: b.ProspectResourcePerson,
		PriorityLevel:          models.RequestPriority(b.PriorityLevel),
		Remarks:                b.Remarks,
	}
	if b.DateNeeded != "" {
		d, err := time.Parse("2006-01-02", b.DateNeeded)
		if err != nil {
			return Input{}, apperr.Invalid("date_needed must be YYYY-MM-DD")
		}
		in.DateNeeded = &d
	}
	return in, nil
}

// Handler handles request HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a requests handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func idParam(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

func bindBody(c *gin.Context) (Input, bool) {
	var body RequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return Input{}, false
	}
	in, err := body.input()
	if err != nil {
		response.BadRequest(c, err.Error())
		return Input{}, false
	}
	return in, true
}

// List handles GET /groups/:id/requests.
func (h *Handler) List(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	gid, ok := idParam(c, "group")
	if !ok {
		return
	}
	list, err := h.svc.List(c.Request.Context(), ident, gid)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to list requests")
		return
	}
	response.OK(c, list)
}

// Create handles POST /groups/:id/requests.
func (h *Handler) Create(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	gid, ok := idParam(c, "group")
	if !ok {
		return
	}
	in, ok := bindBody(c)
	if !ok {
		return
	}
	r, err := h.svc.Create(c.Request.Context(), ident, gid, in)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to create request")
		return
	}
	response.Created(c, r)
}

// Update handles PATCH /requests/:id.
func (h *Handler) Update(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := idParam(c, "request")
	if !ok {
		return
	}
	in, ok := bindBody(c)
	if !ok {
		return
	}
	r, err := h.svc.Update(c.Request.Context(), ident, id, in)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update request")
		return
	}
	response.OK(c, r)
}

// Delete handles DELETE /requests/:id.
func (h *Handler) Delete(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := idParam(c, "request")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ident, id); err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete request")
		return
	}
	response.OK(c, gin.H{"deleted": true})
}

// SetStatus handles PATCH /requests/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := idParam(c, "request")
	if !ok {
		return
	}
	var body StatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	r, err := h.svc.SetStatus(c.Request.Context(), ident, id, models.RequestStatus(body.Status))
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update request status")
		return
	}
	response.OK(c, r)
}
