package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a direct message between two users.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	ReceiverID     uuid.UUID `json:"receiver_id"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	Seen           bool      `json:"seen"`
	Edited         bool      `json:"edited"`
	Deleted        bool      `json:"deleted"`
}

// ConversationID returns the deterministic key of the conversation between a and b.
func ConversationID(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + "_" + y
}

// Contact is a conversation partner with the latest message and unseen count.
type Contact struct {
	User        UserPublic `json:"user"`
	LastMessage Message    `json:"last_message"`
	Unread      int        `json:"unread"`
}

// UnreadSummary aggregates unseen messages per sender.
type UnreadSummary struct {
	Total    int               `json:"total"`
	BySender map[uuid.UUID]int `json:"by_sender"`
}
