package workplan

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

const dateLayout = "2006-01-02"

// TaskRequest is the body for creating or editing a task. Dates are YYYY-MM-DD.
type TaskRequest struct {
	TaskName      string    `json:"task_name" binding:"required"`
	AssignedTo    uuid.UUID `json:"assigned_to" binding:"required"`
	StartDate     string    `json:"start_date" binding:"required"`
	EndDate       string    `json:"end_date" binding:"required"`
	PriorityLevel string    `json:"priority_level" binding:"required"`
}

// StatusRequest is the body for PATCH /tasks/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (r TaskRequest) input() (TaskInput, error) {
	start, err := time.Parse(dateLayout, r.StartDate)
	if err != nil {
		return TaskInput{}, apperr.Invalid("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, r.EndDate)
	if err != nil {
		return TaskInput{}, apperr.Invalid("end_date must be YYYY-MM-DD")
	}
	return TaskInput{
		TaskName:      r.TaskName,
		AssignedTo:    r.AssignedTo,
		StartDate:     start,
		EndDate:       end,
		PriorityLevel: models.TaskPriority(r.PriorityLevel),
	}, nil
}

// Handler handles workplan HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a workplan handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func paramID(c *gin.Context, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// List handles GET /groups/:id/tasks.
func (h *Handler) List(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	gid, ok := paramID(c, "id", "group")
	if !ok {
		return
	}
	wp, err := h.svc.List(c.Request.Context(), ident, gid)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to load workplan")
		return
	}
	response.OK(c, wp)
}

// Create handles POST /groups/:id/tasks.
func (h *Handler) Create(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	gid, ok := paramID(c, "id", "group")
	if !ok {
		return
	}
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		apperr.Respond(c, h.logger, err, "invalid task")
		return
	}
	t, err := h.svc.Create(c.Request.Context(), ident, gid, in)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to create task")
		return
	}
	response.Created(c, t)
}

// Update handles PATCH /tasks/:id.
func (h *Handler) Update(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := paramID(c, "id", "task")
	if !ok {
		return
	}
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in, err := req.input()
	if err != nil {
		apperr.Respond(c, h.logger, err, "invalid task")
		return
	}
	t, err := h.svc.Update(c.Request.Context(), ident, id, in)
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update task")
		return
	}
	response.OK(c, t)
}

// Delete handles DELETE /tasks/:id.
func (h *Handler) Delete(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := paramID(c, "id", "task")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), ident, id); err != nil {
		apperr.Respond(c, h.logger, err, "failed to delete task")
		return
	}
	response.OK(c, gin.H{"deleted": true})
}

// SetStatus handles PATCH /tasks/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	ident, _ := identity.FromContext(c)
	id, ok := paramID(c, "id", "task")
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	t, err := h.svc.SetStatus(c.Request.Context(), ident, id, models.TaskStatus(req.Status))
	if err != nil {
		apperr.Respond(c, h.logger, err, "failed to update task status")
		return
	}
	response.OK(c, t)
}
