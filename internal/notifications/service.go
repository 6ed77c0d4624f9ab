package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/pkg/htmlsanitize"
	"github.com/mariantrack/backend/pkg/queue"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Store is the notification persistence used by the service.
type Store interface {
	InsertMany(ctx context.Context, userIDs []uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) ([]models.Notification, error)
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteAll(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GroupMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Publisher pushes realtime events.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Enqueuer hands fanout jobs to the worker.
type Enqueuer interface {
	EnqueueFanout(ctx context.Context, p queue.FanoutPayload) error
}

// Service writes notifications and pushes them to connected recipients.
type Service struct {
	store  Store
	pub    Publisher
	queue  Enqueuer
	logger *zap.Logger
}

// NewService creates a notification service. A nil queue makes Enqueue deliver inline.
func NewService(store Store, pub Publisher, q Enqueuer, logger *zap.Logger) *Service {
	return &Service{store: store, pub: pub, queue: q, logger: logger}
}

// Notify appends one notification for userID.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error {
	return s.NotifyMany(ctx, []uuid.UUID{userID}, message, typ, groupID)
}

// NotifyMany appends the same notification for every recipient. Duplicate ids are collapsed.
func (s *Service) NotifyMany(ctx context.Context, userIDs []uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error {
	recipients := dedupe(userIDs)
	if len(recipients) == 0 {
		return nil
	}
	clean := htmlsanitize.Sanitize(message)
	if clean == "" {
		return apperr.Invalid("notification message is empty")
	}
	created, err := s.store.InsertMany(ctx, recipients, clean, typ, groupID)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	if s.pub != nil {
		for _, n := range created {
			s.pub.Publish(realtime.UserTopic(n.UserID), realtime.EventNotificationCreated, n)
		}
	}
	return nil
}

// Enqueue schedules an asynchronous fanout.
func (s *Service) Enqueue(ctx context.Context, p queue.FanoutPayload) error {
	if s.queue == nil {
		return s.ProcessFanout(ctx, p)
	}
	if err := s.queue.EnqueueFanout(ctx, p); err != nil {
		return fmt.Errorf("enqueue fanout: %w", err)
	}
	return nil
}

// ProcessFanout resolves the audience of a fanout job and writes the notifications.
func (s *Service) ProcessFanout(ctx context.Context, p queue.FanoutPayload) error {
	var (
		ids []uuid.UUID
		err error
	)
	switch p.Audience {
	case queue.AudienceGroup:
		if p.GroupID == nil {
			return fmt.Errorf("group fanout without group id")
		}
		ids, err = s.store.GroupMemberIDs(ctx, *p.GroupID)
	case queue.AudienceAdmins:
		ids, err = s.store.AdminIDs(ctx)
	case queue.AudienceUsers:
		ids = p.UserIDs
	default:
		return fmt.Errorf("unknown audience %q", p.Audience)
	}
	if err != nil {
		return fmt.Errorf("resolve %s recipients: %w", p.Audience, err)
	}
	if p.Exclude != nil {
		ids = without(ids, *p.Exclude)
	}
	s.logger.Debug("fanout", zap.String("audience", string(p.Audience)), zap.Int("recipients", len(ids)))
	return s.NotifyMany(ctx, ids, p.Message, models.NotificationType(p.Type), p.GroupID)
}

// List returns the caller's notifications.
func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.List(ctx, userID, unreadOnly, limit)
}

// UnreadCount returns the caller's unread count.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead marks one of the caller's notifications read.
func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) (*models.Notification, error) {
	n, err := s.store.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// MarkAllRead marks the caller's notifications read; repeated calls change nothing.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return s.store.MarkAllRead(ctx, userID, ids)
}

// DeleteAll removes the caller's notifications, or only ids when given.
func (s *Service) DeleteAll(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	return s.store.DeleteAll(ctx, userID, ids)
}

// Delete removes one of the caller's notifications.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.Delete(ctx, id, userID)
}

// PurgeRead deletes read notifications older than retention.
func (s *Service) PurgeRead(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteReadBefore(ctx, time.Now().Add(-retention))
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []uuid.UUID, skip uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
