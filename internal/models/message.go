package models

import "time"

// Message kinds carried in the Kind field.
const (
	KindText = "text"
)

// Message is a single message inside a conversation. Messages are immutable
// once created; read state lives in ReadBy and the per-conversation unread
// counters, never in the message body itself.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderRole     string    `json:"sender_role,omitempty"`
	Body           string    `json:"body"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
	ReadBy         []string  `json:"read_by,omitempty"`
}

// Before reports whether m sorts before other in a conversation's total
// order: creation timestamp ascending, ties broken by ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// ReadByUser reports whether userID appears in the read-by set.
func (m Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
