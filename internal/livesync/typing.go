package livesync

import (
	"time"

	"chatsync/internal/models"
)

// typingKey identifies one typing indicator.
type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	name      string
	expiresAt time.Time
}

// typingSet holds inbound typing indicators as values with an explicit
// expiry deadline. Liveness is computed against the clock at read time,
// so an indicator whose refresh never arrives simply lapses. No timer
// callbacks, nothing to leak when the widget unmounts.
type typingSet struct {
	entries map[typingKey]typingEntry
}

func newTypingSet() *typingSet {
	return &typingSet{entries: make(map[typingKey]typingEntry)}
}

func (t *typingSet) apply(p models.TypingPayload, expiresAt time.Time) {
	key := typingKey{conversationID: p.ConversationID, userID: p.UserID}
	if !p.Active {
		delete(t.entries, key)
		return
	}
	t.entries[key] = typingEntry{name: p.UserName, expiresAt: expiresAt}
}

// activeIn returns the display names currently typing in a conversation,
// pruning expired entries as it goes.
func (t *typingSet) activeIn(conversationID string, now time.Time) []string {
	var names []string
	for key, e := range t.entries {
		if key.conversationID != conversationID {
			continue
		}
		if now.After(e.expiresAt) {
			delete(t.entries, key)
			continue
		}
		name := e.name
		if name == "" {
			name = key.userID
		}
		names = append(names, name)
	}
	return names
}
