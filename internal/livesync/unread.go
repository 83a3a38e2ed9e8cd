package livesync

// Unread bookkeeping. Per-conversation counts live on the conversation list
// entries; the global total is maintained in lockstep so the badge never
// needs a recount. The server's numbers win on every Refresh, except for
// conversations the viewer just marked read locally (the flicker guard in
// Refresh).

// clearUnreadLocked zeroes one conversation's count and deducts it from the
// total. Caller holds c.mu.
func (c *Client) clearUnreadLocked(conversationID string) {
	for i := range c.conversations {
		if c.conversations[i].ID != conversationID {
			continue
		}
		c.totalUnread -= c.conversations[i].Unread
		if c.totalUnread < 0 {
			c.totalUnread = 0
		}
		c.conversations[i].Unread = 0
		return
	}
}

// bumpUnreadLocked increments a conversation's count after a push event for
// a conversation that is not on screen. Returns false when the conversation
// is not in the local list yet, in which case the caller schedules a full
// refresh; the total still counts the message so the global badge moves
// without the round-trip. Caller holds c.mu.
func (c *Client) bumpUnreadLocked(conversationID string) bool {
	c.totalUnread++
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].Unread++
			return true
		}
	}
	return false
}

// sumUnreadLocked recounts from the list entries; used only when the global
// count endpoint is unavailable. Caller holds c.mu.
func (c *Client) sumUnreadLocked() int {
	total := 0
	for i := range c.conversations {
		total += c.conversations[i].Unread
	}
	return total
}
