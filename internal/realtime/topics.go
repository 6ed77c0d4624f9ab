package realtime

import (
	"strings"

	"github.com/google/uuid"

	"github.com/mariantrack/backend/internal/identity"
)

// TopicAdmins is the room every administrator joins.
const TopicAdmins = "admins"

// Server events.
const (
	EventNotificationCreated = "notification.created"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventMessageDeleted      = "message.deleted"
	EventMessageSeen         = "message.seen"
	EventGroupUpdated        = "group.updated"
	EventWorkplanUpdated     = "workplan.updated"
	EventRequestUpdated      = "request.updated"
	EventUserPending         = "user.pending"
	EventUserApproved        = "user.approved"

	// Room control events. Clients receive them too.
	EventTopicRevoked   = "topic.revoked"
	EventTopicClosed    = "topic.closed"
	EventSessionRevoked = "session.revoked"
)

// UserTopic is the private room of one user.
func UserTopic(id uuid.UUID) string { return "user:" + id.String() }

// GroupTopic is the room of one startup group.
func GroupTopic(id uuid.UUID) string { return "group:" + id.String() }

// PortfolioTopic is the room of one portfolio manager.
func PortfolioTopic(id uuid.UUID) string { return "portfolio:" + id.String() }

// ParseTopic splits "kind:<uuid>" topics. TopicAdmins parses with a nil id.
func ParseTopic(topic string) (kind string, id uuid.UUID, ok bool) {
	if topic == TopicAdmins {
		return TopicAdmins, uuid.Nil, true
	}
	kind, rest, found := strings.Cut(topic, ":")
	if !found {
		return "", uuid.Nil, false
	}
	switch kind {
	case "user", "group", "portfolio":
	default:
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, false
	}
	return kind, id, true
}

// DefaultTopics are the rooms a connection joins on open.
func DefaultTopics(ident identity.Identity) []string {
	topics := []string{UserTopic(ident.ID)}
	if ident.GroupID != nil {
		topics = append(topics, GroupTopic(*ident.GroupID))
	}
	switch {
	case ident.Role.IsAdmin():
		topics = append(topics, TopicAdmins)
	case ident.Role.IsEmployee():
		topics = append(topics, PortfolioTopic(ident.ID))
	}
	return topics
}
