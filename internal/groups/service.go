// Package groups manages startup groups and their membership.
package groups

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/htmlsanitize"
)

// Store is the group persistence used by the service.
type Store interface {
	Create(ctx context.Context, name, description string, portfolioManagerID uuid.UUID) (*models.Group, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Group, error)
	List(ctx context.Context, f Filter) ([]models.Group, error)
	Update(ctx context.Context, id uuid.UUID, u Update) (*models.Group, error)
	SetImage(ctx context.Context, id uuid.UUID, url, key string) (string, error)
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
	Delete(ctx context.Context, id uuid.UUID) (string, []uuid.UUID, error)
	AddMember(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
}

// UserLookup reads users.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ImageStore keeps group images.
type ImageStore interface {
	UploadGroupImage(ctx context.Context, groupID, filename, contentType string, body io.Reader, size int64) (string, string, error)
	DeleteObject(ctx context.Context, key string) error
}

// Notifier writes notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error
}

// Publisher pushes realtime events and withdraws room access.
type Publisher interface {
	Publish(topic, event string, payload interface{})
	Revoke(userID uuid.UUID, topic string)
	CloseTopic(topic string)
}

// Invalidator drops cached identities.
type Invalidator interface {
	Invalidate(ids ...uuid.UUID)
}

// CreateInput is the payload of CreateGroup.
type CreateInput struct {
	Name               string
	Description        string
	PortfolioManagerID uuid.UUID
}

// Service implements group administration and read policy.
type Service struct {
	store    Store
	users    UserLookup
	images   ImageStore
	notifier Notifier
	pub      Publisher
	cache    Invalidator
	logger   *zap.Logger
}

// NewService creates a group service. images may be nil when no bucket is configured.
func NewService(store Store, users UserLookup, images ImageStore, notifier Notifier, pub Publisher, cache Invalidator, logger *zap.Logger) *Service {
	return &Service{store: store, users: users, images: images, notifier: notifier, pub: pub, cache: cache, logger: logger}
}

// CanView reports whether ident may read g: admins, the group's portfolio manager and its members.
func CanView(ident identity.Identity, g *models.Group) bool {
	if ident.Role.IsAdmin() || g.IsPortfolioManager(ident.ID) {
		return true
	}
	_, ok := g.Member(ident.ID)
	return ok
}

func requireAdmin(actor identity.Identity) error {
	if !actor.Role.IsAdmin() {
		return apperr.Forbidden("only administrators can manage groups")
	}
	return nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return g, nil
}

func (s *Service) checkPortfolioManager(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotPortfolioMgr
		}
		return err
	}
	if u.Role != models.RolePortfolioManager || u.Status != models.StatusApproved {
		return ErrNotPortfolioMgr
	}
	return nil
}

// Create registers a startup group under a portfolio manager.
func (s *Service) Create(ctx context.Context, actor identity.Identity, in CreateInput) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Invalid("group name is required")
	}
	if err := s.checkPortfolioManager(ctx, in.PortfolioManagerID); err != nil {
		return nil, err
	}
	g, err := s.store.Create(ctx, in.Name, strings.TrimSpace(in.Description), in.PortfolioManagerID)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.notify(ctx, in.PortfolioManagerID, fmt.Sprintf("You have been assigned as portfolio manager of <strong>%s</strong>.", htmlsanitize.Escape(g.Name)), g.ID)
	s.publish(g, in.PortfolioManagerID)
	s.logger.Info("group created", zap.String("group_id", g.ID.String()), zap.String("by", actor.ID.String()))
	return g, nil
}

// Update edits name, description or portfolio manager.
func (s *Service) Update(ctx context.Context, actor identity.Identity, id uuid.UUID, u Update) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	before, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.Invalid("group name cannot be empty")
		}
		u.Name = &name
	}
	reassigned := u.PortfolioManagerID != nil && !before.IsPortfolioManager(*u.PortfolioManagerID)
	if reassigned {
		if err := s.checkPortfolioManager(ctx, *u.PortfolioManagerID); err != nil {
			return nil, err
		}
	}
	g, err := s.store.Update(ctx, id, u)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("update group: %w", err)
	}
	if reassigned && before.PortfolioManagerID != nil && s.pub != nil {
		s.pub.Revoke(*before.PortfolioManagerID, realtime.GroupTopic(id))
	}
	if reassigned {
		s.notify(ctx, *u.PortfolioManagerID, fmt.Sprintf("You have been assigned as portfolio manager of <strong>%s</strong>.", htmlsanitize.Escape(g.Name)), g.ID)
	}
	s.publish(g)
	return g, nil
}

// UploadImage stores a new group image and replaces the old one.
func (s *Service) UploadImage(ctx context.Context, actor identity.Identity, id uuid.UUID, filename, contentType string, body io.Reader, size int64) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, apperr.Invalid("image storage is not configured")
	}
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	url, key, err := s.images.UploadGroupImage(ctx, id.String(), filename, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload group image: %w", err)
	}
	old, err := s.store.SetImage(ctx, id, url, key)
	if err != nil {
		return nil, fmt.Errorf("save group image: %w", err)
	}
	if old != "" && old != key {
		if err := s.images.DeleteObject(ctx, old); err != nil {
			s.logger.Warn("delete previous group image failed", zap.String("key", old), zap.Error(err))
		}
	}
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(g)
	return g, nil
}

// AddMember assigns an approved, unassigned incubatee to the group.
func (s *Service) AddMember(ctx context.Context, actor identity.Identity, groupID, userID uuid.UUID, role models.GroupRole) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrInvalidGroupRole
	}
	if err := s.store.AddMember(ctx, groupID, userID, role); err != nil {
		return nil, err
	}
	s.cache.Invalidate(userID)
	g, err := s.get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, userID, fmt.Sprintf("You have been added to <strong>%s</strong> as %s.", htmlsanitize.Escape(g.Name), role), g.ID)
	s.publish(g, userID)
	s.logger.Info("member added", zap.String("group_id", groupID.String()), zap.String("user_id", userID.String()), zap.String("group_role", string(role)))
	return g, nil
}

// RemoveMember detaches a member; the user becomes an unassigned Incubatee.
func (s *Service) RemoveMember(ctx context.Context, actor identity.Identity, groupID, userID uuid.UUID) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.store.RemoveMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	s.cache.Invalidate(userID)
	if s.pub != nil {
		s.pub.Revoke(userID, realtime.GroupTopic(groupID))
	}
	g, err := s.get(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, userID, fmt.Sprintf("You have been removed from <strong>%s</strong>.", htmlsanitize.Escape(g.Name)), g.ID)
	s.publish(g, userID)
	return g, nil
}

// SetArchived archives or restores a group.
func (s *Service) SetArchived(ctx context.Context, actor identity.Identity, id uuid.UUID, archived bool) (*models.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := s.store.SetArchived(ctx, id, archived); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(g)
	return g, nil
}

// Delete removes a group permanently. Members are detached, the image object is deleted.
func (s *Service) Delete(ctx context.Context, actor identity.Identity, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	imageKey, members, err := s.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("delete group: %w", err)
	}
	s.cache.Invalidate(members...)
	if imageKey != "" && s.images != nil {
		if err := s.images.DeleteObject(ctx, imageKey); err != nil {
			s.logger.Warn("delete group image failed", zap.String("key", imageKey), zap.Error(err))
		}
	}
	if s.pub != nil {
		payload := map[string]interface{}{"id": id, "deleted": true}
		s.pub.Publish(realtime.GroupTopic(id), realtime.EventGroupUpdated, payload)
		s.pub.Publish(realtime.TopicAdmins, realtime.EventGroupUpdated, payload)
		s.pub.CloseTopic(realtime.GroupTopic(id))
	}
	s.logger.Info("group deleted", zap.String("group_id", id.String()), zap.Int("detached_members", len(members)))
	return nil
}

// Get returns a group visible to ident.
func (s *Service) Get(ctx context.Context, ident identity.Identity, id uuid.UUID) (*models.Group, error) {
	g, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(ident, g) {
		return nil, apperr.Forbidden("you do not have access to this group")
	}
	return g, nil
}

// List returns the groups ident may see: every group for admins, the portfolio for
// portfolio managers, the own group for incubatees.
func (s *Service) List(ctx context.Context, ident identity.Identity, archived bool) ([]models.Group, error) {
	f := Filter{Archived: archived}
	switch {
	case ident.Role.IsAdmin():
	case ident.Role.IsEmployee():
		f.PortfolioManagerID = &ident.ID
	default:
		if ident.GroupID == nil {
			return []models.Group{}, nil
		}
		f.GroupID = ident.GroupID
	}
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Group{}
	}
	return list, nil
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, msg string, groupID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, msg, models.NotificationGroup, &groupID); err != nil {
		s.logger.Warn("group notification failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

// publish announces a group change to its room, its portfolio manager, the admins and any extra users.
func (s *Service) publish(g *models.Group, users ...uuid.UUID) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(realtime.GroupTopic(g.ID), realtime.EventGroupUpdated, g)
	s.pub.Publish(realtime.TopicAdmins, realtime.EventGroupUpdated, g)
	if g.PortfolioManagerID != nil {
		s.pub.Publish(realtime.PortfolioTopic(*g.PortfolioManagerID), realtime.EventGroupUpdated, g)
	}
	for _, u := range users {
		s.pub.Publish(realtime.UserTopic(u), realtime.EventGroupUpdated, g)
	}
}
