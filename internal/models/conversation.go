package models

import "time"

// Participant identifies one member of a conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Conversation is a durable thread between two or more participants. The
// backend owns it; the client only caches it for the lifetime of the open
// widget. Unread is the count for the viewer the backend served the list to.
type Conversation struct {
	ID            string        `json:"id"`
	Participants  []Participant `json:"participants"`
	LastMessage   string        `json:"last_message,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at,omitempty"`
	Unread        int           `json:"unread"`
}

// Other returns the first participant that is not the viewer. For direct
// two-party conversations that is the peer; for group conversations it is
// only a display hint.
func (c Conversation) Other(viewerID string) Participant {
	for _, p := range c.Participants {
		if p.ID != viewerID {
			return p
		}
	}
	return Participant{}
}

// Has reports whether userID participates in the conversation.
func (c Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
