package livesync

import (
	"sort"
	"time"

	"chatsync/internal/models"
)

// messageList is the reconciled view of one conversation: REST-fetched
// history and push-delivered events merged into a single ordered,
// de-duplicated list. Inserting a message that is already present is a
// no-op, so the merge is idempotent regardless of which source delivers a
// message first. The list lives only while its conversation is open; it is
// discarded on switch and rebuilt from REST on the next visit.
type messageList struct {
	msgs []models.Message
	ids  map[string]struct{}
}

func newMessageList() *messageList {
	return &messageList{ids: make(map[string]struct{})}
}

// insert places m at its sorted position (creation timestamp ascending,
// ties by ID). Returns false when m's ID is already present.
func (l *messageList) insert(m models.Message) bool {
	if _, ok := l.ids[m.ID]; ok {
		return false
	}
	i := sort.Search(len(l.msgs), func(i int) bool {
		return m.Before(l.msgs[i])
	})
	l.msgs = append(l.msgs, models.Message{})
	copy(l.msgs[i+1:], l.msgs[i:])
	l.msgs[i] = m
	l.ids[m.ID] = struct{}{}
	return true
}

// merge inserts every message from a REST page and reports how many were
// new. Messages that already arrived over the push channel dedupe away.
func (l *messageList) merge(msgs []models.Message) int {
	added := 0
	for _, m := range msgs {
		if l.insert(m) {
			added++
		}
	}
	return added
}

// markRead applies a read receipt: userID has read every message created at
// or before upTo.
func (l *messageList) markRead(userID string, upTo time.Time) {
	for i := range l.msgs {
		m := &l.msgs[i]
		if m.CreatedAt.After(upTo) || m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
	}
}

func (l *messageList) len() int {
	return len(l.msgs)
}

// snapshot returns a copy safe to hand to the view layer.
func (l *messageList) snapshot() []models.Message {
	out := make([]models.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}
