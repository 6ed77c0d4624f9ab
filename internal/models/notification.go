package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies what produced a notification.
type NotificationType string

const (
	NotificationRegistration NotificationType = "registration"
	NotificationApproval     NotificationType = "approval"
	NotificationGroup        NotificationType = "group"
	NotificationWorkplan     NotificationType = "workplan"
	NotificationRequest      NotificationType = "request"
	NotificationMessage      NotificationType = "message"
)

// Notification is an append-only message addressed to one user. Only Read changes after insert.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    uuid.UUID        `json:"user_id"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	GroupID   *uuid.UUID       `json:"group_id,omitempty"`
	Read      bool             `json:"read"`
	Timestamp time.Time        `json:"timestamp"`
}
