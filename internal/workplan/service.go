// Package workplan manages the task plan of each startup group.
package workplan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/groups"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/htmlsanitize"
)

var (
	ErrTaskNotFound      = apperr.NotFound("task not found")
	ErrNotProjectManager = apperr.Forbidden("only the group's project manager can manage tasks")
	ErrAssigneeNotMember = apperr.Invalid("assignee must be a member of the group")
	ErrInvalidStatus     = apperr.Invalid("status must be Pending or Completed")
	ErrNotAssignee       = apperr.Forbidden("only the project manager or the assignee can update this task")
)

// Store is the task persistence used by the service.
type Store interface {
	Create(ctx context.Context, groupID uuid.UUID, in TaskInput) (*models.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Task, error)
	Update(ctx context.Context, id uuid.UUID, in TaskInput) (*models.Task, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// GroupLookup reads a group with its members.
type GroupLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Group, error)
}

// Notifier writes notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error
}

// Publisher pushes realtime events.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Service implements workplan operations.
type Service struct {
	store    Store
	groups   GroupLookup
	notifier Notifier
	pub      Publisher
	logger   *zap.Logger
}

// NewService creates a workplan service.
func NewService(store Store, groups GroupLookup, notifier Notifier, pub Publisher, logger *zap.Logger) *Service {
	return &Service{store: store, groups: groups, notifier: notifier, pub: pub, logger: logger}
}

func (s *Service) group(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g, err := s.groups.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, groups.ErrGroupNotFound
		}
		return nil, err
	}
	return g, nil
}

func (s *Service) task(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func isProjectManager(g *models.Group, userID uuid.UUID) bool {
	pm, ok := g.ProjectManager()
	return ok && pm.ID == userID
}

func isAssignee(g *models.Group, t *models.Task, userID uuid.UUID) bool {
	if t.AssignedTo != userID {
		return false
	}
	_, member := g.Member(userID)
	return member
}

func validate(g *models.Group, in *TaskInput) error {
	in.TaskName = strings.TrimSpace(in.TaskName)
	switch {
	case in.TaskName == "":
		return apperr.Invalid("task name is required")
	case !in.PriorityLevel.Valid():
		return apperr.Invalid("priority must be Low, Medium or High")
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return apperr.Invalid("start and end dates are required")
	case in.EndDate.Before(in.StartDate):
		return apperr.Invalid("end date must not be before start date")
	}
	if _, ok := g.Member(in.AssignedTo); !ok {
		return ErrAssigneeNotMember
	}
	return nil
}

// List returns the group's workplan, sorted for display, with its progress.
func (s *Service) List(ctx context.Context, ident identity.Identity, groupID uuid.UUID) (*models.Workplan, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !groups.CanView(ident, g) {
		return nil, apperr.Forbidden("you do not have access to this workplan")
	}
	tasks, err := s.store.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	Sort(tasks)
	return &models.Workplan{GroupID: groupID, Tasks: tasks, Progress: Progress(tasks)}, nil
}

// Create adds a task. Only the group's project manager may do so.
func (s *Service) Create(ctx context.Context, actor identity.Identity, groupID uuid.UUID, in TaskInput) (*models.Task, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !isProjectManager(g, actor.ID) {
		return nil, ErrNotProjectManager
	}
	if err := validate(g, &in); err != nil {
		return nil, err
	}
	t, err := s.store.Create(ctx, groupID, in)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.notify(ctx, t.AssignedTo, fmt.Sprintf("You have been assigned the task <strong>%s</strong>.", htmlsanitize.Escape(t.TaskName)), groupID)
	s.publish(g, t)
	return t, nil
}

// Update edits a task. Only the group's project manager may do so.
func (s *Service) Update(ctx context.Context, actor identity.Identity, id uuid.UUID, in TaskInput) (*models.Task, error) {
	before, err := s.task(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.group(ctx, before.GroupID)
	if err != nil {
		return nil, err
	}
	if !isProjectManager(g, actor.ID) {
		return nil, ErrNotProjectManager
	}
	if err := validate(g, &in); err != nil {
		return nil, err
	}
	t, err := s.store.Update(ctx, id, in)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	if t.AssignedTo != before.AssignedTo {
		s.notify(ctx, t.AssignedTo, fmt.Sprintf("You have been assigned the task <strong>%s</strong>.", htmlsanitize.Escape(t.TaskName)), g.ID)
	}
	s.publish(g, t)
	return t, nil
}

// Delete removes a task. Only the group's project manager may do so.
func (s *Service) Delete(ctx context.Context, actor identity.Identity, id uuid.UUID) error {
	t, err := s.task(ctx, id)
	if err != nil {
		return err
	}
	g, err := s.group(ctx, t.GroupID)
	if err != nil {
		return err
	}
	if !isProjectManager(g, actor.ID) {
		return ErrNotProjectManager
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}
	s.publish(g, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

// SetStatus moves a task between Pending and Completed. The group's project manager and the
// assignee, while still a member, may do so. Completing a pending task notifies the assignee once.
func (s *Service) SetStatus(ctx context.Context, actor identity.Identity, id uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	t, err := s.task(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.group(ctx, t.GroupID)
	if err != nil {
		return nil, err
	}
	if !isProjectManager(g, actor.ID) && !isAssignee(g, t, actor.ID) {
		return nil, ErrNotAssignee
	}
	changed, err := s.store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("set task status: %w", err)
	}
	if !changed {
		return t, nil
	}
	t, err = s.task(ctx, id)
	if err != nil {
		return nil, err
	}
	if status == models.TaskCompleted {
		s.notify(ctx, t.AssignedTo, fmt.Sprintf("Task <strong>%s</strong> has been marked as completed.", htmlsanitize.Escape(t.TaskName)), g.ID)
	}
	s.publish(g, t)
	return t, nil
}

// Sort orders tasks: Pending before Completed, then High, Medium, Low, then by start date.
func Sort(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Status != b.Status {
			return a.Status == models.TaskPending
		}
		if ra, rb := a.PriorityLevel.Rank(), b.PriorityLevel.Rank(); ra != rb {
			return ra < rb
		}
		return a.StartDate.Before(b.StartDate)
	})
}

// Progress is the rounded percentage of completed tasks, 0 for an empty plan.
func Progress(tasks []models.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(len(tasks))))
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, msg string, groupID uuid.UUID) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, msg, models.NotificationWorkplan, &groupID); err != nil {
		s.logger.Warn("workplan notification failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

func (s *Service) publish(g *models.Group, payload interface{}) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.GroupTopic(g.ID), realtime.EventWorkplanUpdated, payload)
	if g.PortfolioManagerID != nil {
		s.pub.Publish(realtime.PortfolioTopic(*g.PortfolioManagerID), realtime.EventWorkplanUpdated, payload)
	}
}
