package livesync

import (
	"context"
	"time"

	"chatsync/internal/models"
)

// Event dispatcher: every inbound push frame is parsed into its strict
// schema at the boundary and routed by conversation. Events for the open
// conversation feed the reconciler; events for any other conversation still
// move unread counts and list previews; they are never dropped outright.
// A frame that fails to parse is logged and discarded; it can never tear
// down the channel.
func (c *Client) handleEvent(env models.Envelope) {
	decoded, err := models.DecodeEvent(env)
	if err != nil {
		c.log.Warn("discarding push event", "event", env.Event, "err", err)
		return
	}
	switch p := decoded.(type) {
	case models.MessagePayload:
		c.onMessage(p.Message)
	case models.TypingPayload:
		c.onTyping(p)
	case models.ReadPayload:
		c.onRead(p)
	case models.AckPayload:
		c.onAck(p)
	default:
		// join/leave/send only travel client to server.
		c.log.Warn("ignoring unexpected push event", "event", env.Event)
	}
}

func (c *Client) onMessage(m models.Message) {
	c.mu.Lock()
	known := c.touchConversationLocked(m)
	if m.ConversationID == c.active && c.list != nil {
		// Insert is a no-op when the REST page already delivered this ID.
		c.list.insert(m)
		if c.state == StateLoaded {
			c.state = StateLive
		}
	} else {
		if !c.bumpUnreadLocked(m.ConversationID) {
			known = false
		}
		delete(c.readLocally, m.ConversationID)
	}
	c.mu.Unlock()
	c.notify()

	if !known {
		// First message of a conversation the backend just created; pull
		// the list so it shows up with its participants.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = c.Refresh(ctx)
		}()
	}
}

// touchConversationLocked updates the list preview for a new message and
// reports whether the conversation was known locally. Caller holds c.mu.
func (c *Client) touchConversationLocked(m models.Message) bool {
	for i := range c.conversations {
		if c.conversations[i].ID != m.ConversationID {
			continue
		}
		c.conversations[i].LastMessage = m.Body
		c.conversations[i].LastMessageAt = m.CreatedAt
		return true
	}
	return false
}

func (c *Client) onTyping(p models.TypingPayload) {
	if p.UserID == c.userID {
		return
	}
	c.mu.Lock()
	c.typing.apply(p, c.now().Add(c.typingTTL))
	c.mu.Unlock()
	c.notify()
}

func (c *Client) onRead(p models.ReadPayload) {
	c.mu.Lock()
	if p.ConversationID == c.active && c.list != nil {
		c.list.markRead(p.UserID, p.ReadAt)
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Client) onAck(p models.AckPayload) {
	c.mu.Lock()
	ch, ok := c.pending[p.Ref]
	if ok {
		delete(c.pending, p.Ref)
	}
	c.mu.Unlock()
	if ok {
		ch <- p
	}
}
