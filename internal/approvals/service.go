// Package approvals runs the account approval workflow: admins approve or reject pending registrations
// and are reminded, at most once per throttle window, that registrations are waiting.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/pkg/database"
	"github.com/mariantrack/backend/pkg/queue"
)

// Decision is the admin's verdict on a pending account.
type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

// UserStore is the user persistence used by the workflow.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, f models.UserFilter) ([]models.UserPublic, error)
	Approve(ctx context.Context, id uuid.UUID) (*models.User, error)
	DeleteWithStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) error
	PendingSummary(ctx context.Context) (int, time.Time, error)
}

// Notifier writes notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string, typ models.NotificationType, groupID *uuid.UUID) error
	Enqueue(ctx context.Context, p queue.FanoutPayload) error
}

// Throttle grants one acquisition per key per ttl and remembers the newest account already announced.
type Throttle interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	LastMark(ctx context.Context, key string) (time.Time, error)
	Mark(ctx context.Context, key string, at time.Time) error
}

// Publisher pushes realtime events and closes the connections of removed accounts.
type Publisher interface {
	Publish(topic, event string, payload interface{})
	Disconnect(userID uuid.UUID)
}

// Invalidator drops cached identities.
type Invalidator interface {
	Invalidate(ids ...uuid.UUID)
}

// Service implements the approval workflow.
type Service struct {
	users    UserStore
	notifier Notifier
	throttle Throttle
	pub      Publisher
	cache    Invalidator
	window   time.Duration
	logger   *zap.Logger
}

// NewService creates the approval service. window is the minimum gap between pending-backlog reminders.
func NewService(users UserStore, notifier Notifier, throttle Throttle, pub Publisher, cache Invalidator, window time.Duration, logger *zap.Logger) *Service {
	return &Service{users: users, notifier: notifier, throttle: throttle, pub: pub, cache: cache, window: window, logger: logger}
}

// SetUserStatus approves or rejects a pending account. Rejection deletes the account.
func (s *Service) SetUserStatus(ctx context.Context, actor identity.Identity, userID uuid.UUID, d Decision) (*models.UserPublic, error) {
	if !actor.Role.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can review accounts")
	}
	switch d {
	case DecisionApprove:
		u, err := s.users.Approve(ctx, userID)
		if err != nil {
			return nil, s.transitionError(ctx, userID, err)
		}
		s.cache.Invalidate(userID)
		if err := s.notifier.Notify(ctx, userID, "Your account has been approved. Welcome to MarianTrack!", models.NotificationApproval, nil); err != nil {
			s.logger.Warn("approval notification failed", zap.Error(err), zap.String("user_id", userID.String()))
		}
		pub := u.ToPublic()
		if s.pub != nil {
			s.pub.Publish(realtime.TopicAdmins, realtime.EventUserApproved, pub)
		}
		s.logger.Info("user approved", zap.String("user_id", userID.String()), zap.String("by", actor.ID.String()))
		return &pub, nil
	case DecisionReject:
		if err := s.users.DeleteWithStatus(ctx, userID, models.StatusPending); err != nil {
			return nil, s.transitionError(ctx, userID, err)
		}
		s.cache.Invalidate(userID)
		s.logger.Info("user rejected", zap.String("user_id", userID.String()), zap.String("by", actor.ID.String()))
		return nil, nil
	default:
		return nil, apperr.Invalid("status must be approved or rejected")
	}
}

// RemoveUser hard-deletes an approved account. Memberships go with it.
func (s *Service) RemoveUser(ctx context.Context, actor identity.Identity, userID uuid.UUID) error {
	if !actor.Role.IsAdmin() {
		return apperr.Forbidden("only administrators can remove users")
	}
	if actor.ID == userID {
		return apperr.Conflict("you cannot remove your own account")
	}
	if err := s.users.DeleteWithStatus(ctx, userID, models.StatusApproved); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			if _, gerr := s.users.GetByID(ctx, userID); gerr == nil {
				return apperr.Conflict("pending accounts are rejected, not removed")
			}
			return apperr.NotFound("user not found")
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.cache.Invalidate(userID)
	if s.pub != nil {
		s.pub.Disconnect(userID)
	}
	s.logger.Info("user removed", zap.String("user_id", userID.String()), zap.String("by", actor.ID.String()))
	return nil
}

// ListPending returns the accounts awaiting review.
func (s *Service) ListPending(ctx context.Context) ([]models.UserPublic, error) {
	return s.users.List(ctx, models.UserFilter{Status: models.StatusPending})
}

// NotifyPendingBacklog reminds every admin that accounts are waiting. It fires only when an account
// registered after the last reminder exists and no reminder went out within the throttle window.
// Reports whether a reminder was sent.
func (s *Service) NotifyPendingBacklog(ctx context.Context) (bool, error) {
	n, newest, err := s.users.PendingSummary(ctx)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	seen, err := s.throttle.LastMark(ctx, MarkKey)
	if err != nil {
		return false, fmt.Errorf("read pending mark: %w", err)
	}
	if !newest.After(seen) {
		return false, nil
	}
	ok, err := s.throttle.Acquire(ctx, ThrottleKey, s.window)
	if err != nil {
		return false, fmt.Errorf("acquire throttle: %w", err)
	}
	if !ok {
		return false, nil
	}
	msg := fmt.Sprintf("There are <strong>%d</strong> new user registration(s) awaiting approval.", n)
	if n == 1 {
		msg = "There is <strong>1</strong> new user registration awaiting approval."
	}
	if err := s.notifier.Enqueue(ctx, queue.FanoutPayload{
		Audience: queue.AudienceAdmins,
		Message:  msg,
		Type:     string(models.NotificationRegistration),
	}); err != nil {
		if rerr := s.throttle.Release(ctx, ThrottleKey); rerr != nil {
			s.logger.Warn("release pending throttle failed", zap.Error(rerr))
		}
		return false, err
	}
	if err := s.throttle.Mark(ctx, MarkKey, newest); err != nil {
		s.logger.Warn("store pending mark failed", zap.Error(err))
	}
	return true, nil
}

// UserRegistered announces a new pending account to admins.
func (s *Service) UserRegistered(ctx context.Context, u *models.User) {
	if s.pub != nil {
		s.pub.Publish(realtime.TopicAdmins, realtime.EventUserPending, u.ToPublic())
	}
	if _, err := s.NotifyPendingBacklog(ctx); err != nil {
		s.logger.Warn("pending backlog notification failed", zap.Error(err))
	}
}

// transitionError explains why a conditional status update matched nothing.
func (s *Service) transitionError(ctx context.Context, userID uuid.UUID, err error) error {
	if !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if _, gerr := s.users.GetByID(ctx, userID); gerr == nil {
		return apperr.Conflict("user is not pending approval")
	}
	return apperr.NotFound("user not found")
}
