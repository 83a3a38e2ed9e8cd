package livesync

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/models"
)

var errAckTimeout = errors.New("acknowledgment timed out")

// FailedSend is a message whose delivery attempts were exhausted. It stays
// listed until the user retries or dismisses it. No ghost entry ever
// appears in the message list; a message shows up only once the server
// confirms it.
type FailedSend struct {
	Ref            string
	ConversationID string
	Body           string
	Kind           string
	At             time.Time
	Reason         string
}

// Send submits a message to the open conversation. Delivery runs in the
// background: each attempt is a push frame tagged with a correlation ref,
// acknowledged by the server within a bounded wait, and retried with
// exponential backoff. The ref is stable across retries so the backend can
// dedupe a send whose ack was lost.
func (c *Client) Send(body string) {
	body = strings.TrimSpace(body)
	c.mu.Lock()
	conv := c.active
	c.mu.Unlock()
	if conv == "" || body == "" {
		return
	}
	go c.deliver(conv, body, models.KindText, uuid.New().String())
}

// RetrySend re-attempts a failed send by its ref.
func (c *Client) RetrySend(ref string) {
	c.mu.Lock()
	var found *FailedSend
	for i := range c.failed {
		if c.failed[i].Ref == ref {
			f := c.failed[i]
			found = &f
			c.failed = append(c.failed[:i], c.failed[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if found == nil {
		return
	}
	c.notify()
	go c.deliver(found.ConversationID, found.Body, found.Kind, found.Ref)
}

// FailedSends returns the sends awaiting a manual retry.
func (c *Client) FailedSends() []FailedSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FailedSend, len(c.failed))
	copy(out, c.failed)
	return out
}

func (c *Client) deliver(conversationID, body, kind, ref string) {
	var lastErr error
	for attempt := 0; attempt <= c.sendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.sendRetryBase << (attempt - 1))
		}
		ack, err := c.attempt(conversationID, body, kind, ref)
		if err != nil {
			lastErr = err
			continue
		}
		if !ack.OK {
			// The server rejected the message; retrying the same frame
			// cannot succeed.
			lastErr = errors.New(ack.Error)
			break
		}
		if ack.Message != nil {
			// The ack carries the minted message; insert it directly so the
			// sender sees it even if the room broadcast frame is lost. The
			// broadcast copy dedupes by ID.
			c.mu.Lock()
			if conversationID == c.active && c.list != nil {
				c.list.insert(*ack.Message)
			}
			c.mu.Unlock()
		}
		c.stopTypingFor(conversationID)
		c.notify()
		return
	}

	c.mu.Lock()
	c.failed = append(c.failed, FailedSend{
		Ref:            ref,
		ConversationID: conversationID,
		Body:           body,
		Kind:           kind,
		At:             c.now(),
		Reason:         lastErr.Error(),
	})
	c.mu.Unlock()
	c.log.Warn("send failed", "conversation", conversationID, "ref", ref, "err", lastErr)
	c.notify()
}

func (c *Client) attempt(conversationID, body, kind, ref string) (models.AckPayload, error) {
	ch := make(chan models.AckPayload, 1)
	c.mu.Lock()
	c.pending[ref] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	env, err := models.NewEnvelope(models.EventSend, models.SendPayload{
		Ref:            ref,
		ConversationID: conversationID,
		Body:           body,
		Kind:           kind,
	})
	if err != nil {
		return models.AckPayload{}, err
	}
	if err := c.tr.Send(env); err != nil {
		return models.AckPayload{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-time.After(c.ackTimeout):
		return models.AckPayload{}, errAckTimeout
	}
}

// Typing records a keystroke in the open conversation: the first one sends
// a typing-start frame, and a quiet window without further keystrokes sends
// the stop.
func (c *Client) Typing() {
	c.mu.Lock()
	conv := c.active
	if conv == "" {
		c.mu.Unlock()
		return
	}
	// The indicator is bound to the conversation the keystroke happened
	// in; switching conversations mid-window closes out the old one.
	wasTyping := c.senderTyping && c.typingConv == conv
	var stale string
	if c.senderTyping && c.typingConv != conv {
		stale = c.typingConv
	}
	c.senderTyping = true
	c.typingConv = conv
	if c.typingTimer == nil {
		c.typingTimer = time.AfterFunc(c.typingTTL, c.typingLapsed)
	} else {
		c.typingTimer.Reset(c.typingTTL)
	}
	c.mu.Unlock()
	if stale != "" {
		c.sendTyping(stale, false)
	}
	if !wasTyping {
		c.sendTyping(conv, true)
	}
}

func (c *Client) typingLapsed() {
	c.mu.Lock()
	if !c.senderTyping {
		c.mu.Unlock()
		return
	}
	c.senderTyping = false
	conv := c.typingConv
	c.typingConv = ""
	c.mu.Unlock()
	if conv != "" {
		c.sendTyping(conv, false)
	}
}

// stopTypingFor clears the sender-side indicator after a successful send.
func (c *Client) stopTypingFor(conversationID string) {
	c.mu.Lock()
	wasTyping := c.senderTyping && c.typingConv == conversationID
	if wasTyping {
		c.senderTyping = false
		c.typingConv = ""
		if c.typingTimer != nil {
			c.typingTimer.Stop()
		}
	}
	c.mu.Unlock()
	if wasTyping {
		c.sendTyping(conversationID, false)
	}
}

func (c *Client) sendTyping(conversationID string, active bool) {
	env, err := models.NewEnvelope(models.EventTyping, models.TypingPayload{
		ConversationID: conversationID,
		UserName:       c.userName,
		Active:         active,
	})
	if err != nil {
		return
	}
	// Best effort; a lost indicator expires on the receiver anyway.
	_ = c.tr.Send(env)
}
