package livesync

import (
	"context"
	"time"

	"chatsync/internal/models"
)

// Subscription registry: which rooms this client is joined to. Room
// membership does not survive a transport reconnect, so every successful
// (re)connect re-joins the tracked set and re-fetches state that may have
// moved while the channel was down.

func (c *Client) joinRoom(conversationID string) error {
	env, err := models.NewEnvelope(models.EventJoin, models.JoinPayload{ConversationID: conversationID})
	if err != nil {
		return err
	}
	return c.tr.Send(env)
}

func (c *Client) leaveRoom(conversationID string) {
	env, err := models.NewEnvelope(models.EventLeave, models.JoinPayload{ConversationID: conversationID})
	if err == nil {
		// Best effort; a dead connection forgets the membership anyway.
		_ = c.tr.Send(env)
	}
}

// handleConnect runs after every successful transport (re)connect.
func (c *Client) handleConnect() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.joined))
	for id := range c.joined {
		rooms = append(rooms, id)
	}
	active := c.active
	epoch := c.epoch
	c.mu.Unlock()

	for _, id := range rooms {
		if err := c.joinRoom(id); err != nil {
			c.log.Warn("room re-join failed", "conversation", id, "err", err)
		}
	}

	// Events that fired while the channel was down are gone; the idempotent
	// merge makes it safe to just re-fetch and pour the page back in.
	if active != "" {
		go c.refetchActive(active, epoch)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Refresh(ctx)
	}()
	c.notify()
}

func (c *Client) refetchActive(conversationID string, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msgs, err := c.api.History(ctx, conversationID, 1, c.pageSize)
	if err != nil {
		c.log.Warn("history re-fetch after reconnect failed", "conversation", conversationID, "err", err)
		return
	}
	c.mu.Lock()
	if c.epoch != epoch || c.active != conversationID || c.list == nil {
		c.mu.Unlock()
		return
	}
	c.list.merge(msgs)
	c.mu.Unlock()
	c.notify()
}
