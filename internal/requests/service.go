// Package requests tracks resource and support requests raised by startup teams.
package requests

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/mariantrack/backend/pkg/queue"
)

var (
	ErrRequestNotFound = apperr.NotFound("request not found")
	ErrNotCreator      = apperr.Forbidden("only the creator can change this request")
	ErrLeftGroup       = apperr.Forbidden("you are no longer a member of this group")
	ErrInvalidStatus   = apperr.Invalid("unknown request status")
)

// Store is the request persistence used by the service.
type Store interface {
	Create(ctx context.Context, groupID, createdBy uuid.UUID, in Input) (*models.Request, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Request, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Request, error)
	Update(ctx context.Context, id uuid.UUID, in Input) (*models.Request, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus) (*models.Request, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// GroupLookup reads a group with its members.
type GroupLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Group, error)
}

// Notifier writes single notifications and schedules group fanouts.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error
	Enqueue(ctx context.Context, p queue.FanoutPayload) error
}

// Publisher pushes realtime events.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Service implements the request queue.
type Service struct {
	store    Store
	groups   GroupLookup
	notifier Notifier
	pub      Publisher
	logger   *zap.Logger
}

// NewService creates a requests service.
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

func (s *Service) request(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return r, nil
}

func validate(g *models.Group, in *Input) error {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return apperr.Invalid("description is required")
	}
	if !in.PriorityLevel.Valid() {
		return apperr.Invalid("priority must be low, medium or high")
	}
	if _, ok := g.Member(in.ResponsibleTeamMember); !ok {
		return apperr.Invalid("responsible team member must belong to the group")
	}
	return nil
}

// List returns the group's requests, newest first.
func (s *Service) List(ctx context.Context, ident identity.Identity, groupID uuid.UUID) ([]models.Request, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !groups.CanView(ident, g) {
		return nil, apperr.Forbidden("you do not have access to these requests")
	}
	list, err := s.store.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return list, nil
}

// Create raises a request for the group. Only the group's project manager may do so; the
// portfolio manager is notified.
func (s *Service) Create(ctx context.Context, actor identity.Identity, groupID uuid.UUID, in Input) (*models.Request, error) {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if pm, ok := g.ProjectManager(); !ok || pm.ID != actor.ID {
		return nil, apperr.Forbidden("only the group's project manager can create requests")
	}
	if err := validate(g, &in); err != nil {
		return nil, err
	}
	r, err := s.store.Create(ctx, groupID, actor.ID, in)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if g.PortfolioManagerID != nil {
		msg := fmt.Sprintf("<strong>%s</strong> submitted a new request: %s", htmlsanitize.Escape(g.Name), htmlsanitize.Escape(r.Description))
		if err := s.notifier.Notify(ctx, *g.PortfolioManagerID, msg, models.NotificationRequest, &g.ID); err != nil {
			s.logger.Warn("request notification failed", zap.Error(err), zap.String("request_id", r.ID.String()))
		}
	}
	s.publish(g, r)
	return r, nil
}

// Update edits a request. Only its creator, while still a member of the group, may do so.
func (s *Service) Update(ctx context.Context, actor identity.Identity, id uuid.UUID, in Input) (*models.Request, error) {
	before, err := s.request(ctx, id)
	if err != nil {
		return nil, err
	}
	if before.CreatedBy != actor.ID {
		return nil, ErrNotCreator
	}
	g, err := s.group(ctx, before.GroupID)
	if err != nil {
		return nil, err
	}
	if _, member := g.Member(actor.ID); !member {
		return nil, ErrLeftGroup
	}
	if err := validate(g, &in); err != nil {
		return nil, err
	}
	r, err := s.store.Update(ctx, id, in)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("update request: %w", err)
	}
	s.publish(g, r)
	return r, nil
}

// Delete removes a request. Only its creator, while still a member of the group, may do so.
func (s *Service) Delete(ctx context.Context, actor identity.Identity, id uuid.UUID) error {
	r, err := s.request(ctx, id)
	if err != nil {
		return err
	}
	if r.CreatedBy != actor.ID {
		return ErrNotCreator
	}
	g, err := s.group(ctx, r.GroupID)
	if err != nil {
		return err
	}
	if _, member := g.Member(actor.ID); !member {
		return ErrLeftGroup
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("delete request: %w", err)
	}
	s.publish(g, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

// SetStatus changes the status. The group's portfolio manager and administrators may do so;
// every group member except the actor is notified through the fanout queue.
func (s *Service) SetStatus(ctx context.Context, actor identity.Identity, id uuid.UUID, status models.RequestStatus) (*models.Request, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	before, err := s.request(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.group(ctx, before.GroupID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() && !g.IsPortfolioManager(actor.ID) {
		return nil, apperr.Forbidden("only the portfolio manager or an administrator can change the status")
	}
	r, err := s.store.SetStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("set request status: %w", err)
	}
	actorID := actor.ID
	groupID := g.ID
	err = s.notifier.Enqueue(ctx, queue.FanoutPayload{
		Audience: queue.AudienceGroup,
		GroupID:  &groupID,
		Exclude:  &actorID,
		Message:  fmt.Sprintf("Request <strong>%s</strong> is now %s.", htmlsanitize.Escape(r.Description), htmlsanitize.Escape(string(status))),
		Type:     string(models.NotificationRequest),
	})
	if err != nil {
		s.logger.Warn("request status fanout failed", zap.Error(err), zap.String("request_id", r.ID.String()))
	}
	s.publish(g, r)
	return r, nil
}

func (s *Service) publish(g *models.Group, payload interface{}) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.GroupTopic(g.ID), realtime.EventRequestUpdated, payload)
	if g.PortfolioManagerID != nil {
		s.pub.Publish(realtime.PortfolioTopic(*g.PortfolioManagerID), realtime.EventRequestUpdated, payload)
	}
}
