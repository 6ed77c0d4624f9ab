// Package messages implements one-to-one direct messaging.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mariantrack/backend/internal/apperr"
	"github.com/mariantrack/backend/internal/identity"
	"github.com/mariantrack/backend/internal/models"
	"github.com/mariantrack/backend/internal/realtime"
	"github.com/mariantrack/backend/pkg/database"
)

const (
	MaxLength    = 2000
	EditWindow   = 5 * time.Minute
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	ErrMessageNotFound = apperr.NotFound("message not found")
	ErrNotSender       = apperr.Forbidden("only the sender can change this message")
	ErrNotReceiver     = apperr.Forbidden("only the receiver can mark this message seen")
	ErrEditWindow      = apperr.Conflict("messages can only be edited within 5 minutes of sending")
	ErrMessageDeleted  = apperr.Conflict("message has been deleted")
)

// Store is the message persistence used by the service.
type Store interface {
	Insert(ctx context.Context, senderID, receiverID uuid.UUID, text string) (*models.Message, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Message, error)
	Edit(ctx context.Context, id uuid.UUID, text string, notBefore time.Time) (*models.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (*models.Message, error)
	MarkSeen(ctx context.Context, id uuid.UUID) (bool, error)
	Conversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error)
	UnreadBySender(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error)
	Contacts(ctx context.Context, userID uuid.UUID) ([]models.Contact, error)
}

// UserLookup reads users.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Publisher pushes realtime events.
type Publisher interface {
	Publish(topic, event string, payload interface{})
}

// Service implements direct messaging.
type Service struct {
	store  Store
	users  UserLookup
	pub    Publisher
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a messages service.
func NewService(store Store, users UserLookup, pub Publisher, logger *zap.Logger) *Service {
	return &Service{store: store, users: users, pub: pub, now: time.Now, logger: logger}
}

func cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Invalid("message cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return "", apperr.Invalid(fmt.Sprintf("message cannot exceed %d characters", MaxLength))
	}
	return text, nil
}

func (s *Service) message(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// Send delivers a message from actor to receiverID.
func (s *Service) Send(ctx context.Context, actor identity.Identity, receiverID uuid.UUID, text string) (*models.Message, error) {
	if receiverID == actor.ID {
		return nil, apperr.Invalid("cannot send a message to yourself")
	}
	text, err := cleanText(text)
	if err != nil {
		return nil, err
	}
	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("receiver not found")
		}
		return nil, err
	}
	if receiver.Status != models.StatusApproved {
		return nil, apperr.Invalid("receiver is not an approved user")
	}
	m, err := s.store.Insert(ctx, actor.ID, receiverID, text)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	s.publish(realtime.EventMessageCreated, m, m.SenderID, m.ReceiverID)
	return m, nil
}

// Edit replaces the text of the actor's own message within the edit window.
func (s *Service) Edit(ctx context.Context, actor identity.Identity, id uuid.UUID, text string) (*models.Message, error) {
	m, err := s.message(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actor.ID {
		return nil, ErrNotSender
	}
	if m.Deleted {
		return nil, ErrMessageDeleted
	}
	text, err = cleanText(text)
	if err != nil {
		return nil, err
	}
	notBefore := s.now().Add(-EditWindow)
	if m.Timestamp.Before(notBefore) {
		return nil, ErrEditWindow
	}
	updated, err := s.store.Edit(ctx, id, text, notBefore)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrEditWindow
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	s.publish(realtime.EventMessageUpdated, updated, updated.SenderID, updated.ReceiverID)
	return updated, nil
}

// Delete soft-deletes the actor's own message.
func (s *Service) Delete(ctx context.Context, actor identity.Identity, id uuid.UUID) (*models.Message, error) {
	m, err := s.message(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actor.ID {
		return nil, ErrNotSender
	}
	if m.Deleted {
		return m, nil
	}
	deleted, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	s.publish(realtime.EventMessageDeleted, deleted, deleted.SenderID, deleted.ReceiverID)
	return deleted, nil
}

// MarkSeen flags a received message as seen. Repeated calls are no-ops.
func (s *Service) MarkSeen(ctx context.Context, actor identity.Identity, id uuid.UUID) (*models.Message, error) {
	m, err := s.message(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != actor.ID {
		return nil, ErrNotReceiver
	}
	changed, err := s.store.MarkSeen(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mark message seen: %w", err)
	}
	m.Seen = true
	if changed {
		s.publish(realtime.EventMessageSeen, m, m.SenderID)
	}
	return m, nil
}

// Conversation returns a page of the conversation between actor and otherID in ascending time.
func (s *Service) Conversation(ctx context.Context, actor identity.Identity, otherID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.store.Conversation(ctx, models.ConversationID(actor.ID, otherID), limit, before)
}

// UnreadCounts aggregates unseen messages for the actor per sender.
func (s *Service) UnreadCounts(ctx context.Context, actor identity.Identity) (*models.UnreadSummary, error) {
	by, err := s.store.UnreadBySender(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	sum := &models.UnreadSummary{BySender: by}
	for _, n := range by {
		sum.Total += n
	}
	return sum, nil
}

// Contacts lists the actor's conversation partners.
func (s *Service) Contacts(ctx context.Context, actor identity.Identity) ([]models.Contact, error) {
	return s.store.Contacts(ctx, actor.ID)
}

func (s *Service) publish(event string, m *models.Message, users ...uuid.UUID) {
	if s.pub == nil {
		return
	}
	for _, u := range users {
		s.pub.Publish(realtime.UserTopic(u), event, m)
	}
}
