// Package livesync reconciles the two sources of truth a chat widget sees,
// paginated REST history and live push events, into one consistent view:
// an ordered de-duplicated message list for the open conversation, a
// conversation list with previews, and unread counts that stay coherent
// across optimistic local actions and server-confirmed state.
package livesync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatsync/internal/models"
)

// API is the REST surface the client consumes. *api.Client satisfies it;
// tests substitute stubs.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	UnreadCount(ctx context.Context) (int, error)
	History(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// Transport is the push channel the client consumes. *transport.Manager
// satisfies it.
type Transport interface {
	Connect()
	Connected() bool
	Send(models.Envelope) error
	OnEvent(h func(models.Envelope))
	OnConnect(f func())
	Close() error
}

// ViewState tracks the lifecycle of the open conversation view.
type ViewState int

const (
	StateClosed ViewState = iota
	StateJoining
	StateLoaded
	StateLive
)

func (s ViewState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateJoining:
		return "joining"
	case StateLoaded:
		return "loaded"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Options tune a Client. Zero values fall back to the defaults below.
type Options struct {
	// UserID is the viewer's identity; used to resolve conversation peers
	// and to ignore the viewer's own typing echoes.
	UserID string
	// UserName is the viewer's display name, attached to outbound typing.
	UserName string

	PageSize      int           // history page size (default 50)
	AckTimeout    time.Duration // bounded wait for a send ack (default 5s)
	SendRetries   int           // extra attempts after the first (default 3)
	SendRetryBase time.Duration // backoff base, doubled per attempt (default 500ms)
	TypingTTL     time.Duration // typing quiet window (default 2s)

	Logger *slog.Logger
	Clock  func() time.Time
}

const (
	defaultPageSize      = 50
	defaultAckTimeout    = 5 * time.Second
	defaultSendRetries   = 3
	defaultSendRetryBase = 500 * time.Millisecond
	defaultTypingTTL     = 2 * time.Second
)

// Client is the live conversation sync client. All state behind one mutex;
// transport callbacks and REST continuations may land on any goroutine.
type Client struct {
	api API
	tr  Transport
	log *slog.Logger
	now func() time.Time

	userID        string
	userName      string
	pageSize      int
	ackTimeout    time.Duration
	sendRetries   int
	sendRetryBase time.Duration
	typingTTL     time.Duration

	mu            sync.Mutex
	conversations []models.Conversation
	totalUnread   int
	active        string
	state         ViewState
	epoch         uint64
	list          *messageList
	joined        map[string]struct{}
	typing        *typingSet
	pending       map[string]chan models.AckPayload
	failed        []FailedSend
	readLocally   map[string]struct{}
	senderTyping  bool
	typingConv    string
	typingTimer   *time.Timer

	updates chan struct{}
}

// New wires a Client to its REST and push-channel collaborators. The
// transport is injected, never a package global, so the caller owns its
// lifecycle end to end.
func New(restAPI API, tr Transport, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.SendRetries <= 0 {
		opts.SendRetries = defaultSendRetries
	}
	if opts.SendRetryBase <= 0 {
		opts.SendRetryBase = defaultSendRetryBase
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Client{
		api:           restAPI,
		tr:            tr,
		log:           opts.Logger,
		now:           opts.Clock,
		userID:        opts.UserID,
		userName:      opts.UserName,
		pageSize:      opts.PageSize,
		ackTimeout:    opts.AckTimeout,
		sendRetries:   opts.SendRetries,
		sendRetryBase: opts.SendRetryBase,
		typingTTL:     opts.TypingTTL,
		state:         StateClosed,
		joined:        make(map[string]struct{}),
		typing:        newTypingSet(),
		pending:       make(map[string]chan models.AckPayload),
		readLocally:   make(map[string]struct{}),
		updates:       make(chan struct{}, 1),
	}
	tr.OnEvent(c.handleEvent)
	tr.OnConnect(c.handleConnect)
	return c
}

// Connect brings up the push channel. Idempotent; failures stay silent and
// the transport keeps retrying on its own.
func (c *Client) Connect() {
	c.tr.Connect()
}

// Close tears everything down. Must be called when the widget unmounts.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.mu.Unlock()
	return c.tr.Close()
}

// Updates is a coalescing signal: the view layer waits on it and re-reads
// the snapshots below after every wakeup.
func (c *Client) Updates() <-chan struct{} {
	return c.updates
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Open makes conversationID the active conversation: joins its room, zeroes
// its unread count optimistically, fetches the latest history page, and
// merges it with any events that raced in over the push channel. The
// previous conversation's list is discarded; re-opening always re-fetches.
func (c *Client) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.active == conversationID && (c.state == StateLoaded || c.state == StateLive) {
		c.mu.Unlock()
		return nil
	}
	prev := c.active
	c.active = conversationID
	c.state = StateJoining
	c.epoch++
	epoch := c.epoch
	c.list = newMessageList()
	c.joined[conversationID] = struct{}{}
	if prev != "" && prev != conversationID {
		delete(c.joined, prev)
	}
	c.clearUnreadLocked(conversationID)
	c.readLocally[conversationID] = struct{}{}
	c.mu.Unlock()
	c.notify()

	if prev != "" && prev != conversationID {
		c.leaveRoom(prev)
	}
	if err := c.joinRoom(conversationID); err != nil {
		c.failOpen(epoch, conversationID, err)
		return err
	}

	msgs, err := c.api.History(ctx, conversationID, 1, c.pageSize)

	c.mu.Lock()
	if c.epoch != epoch || c.active != conversationID {
		// The user already switched away; a late result must never
		// clobber the conversation that is on screen now.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.abandonOpenLocked(conversationID)
		c.mu.Unlock()
		c.log.Error("history fetch failed", "conversation", conversationID, "err", err)
		c.notify()
		return err
	}
	c.list.merge(msgs)
	c.state = StateLoaded
	c.mu.Unlock()
	c.notify()

	go c.confirmRead(conversationID)
	return nil
}

func (c *Client) failOpen(epoch uint64, conversationID string, err error) {
	c.mu.Lock()
	if c.epoch == epoch && c.active == conversationID {
		c.abandonOpenLocked(conversationID)
	}
	c.mu.Unlock()
	c.log.Warn("join failed", "conversation", conversationID, "err", err)
	c.notify()
}

// abandonOpenLocked unwinds a failed Open so no membership or list survives
// it: a reconnect must not silently re-join and refill a conversation the
// view shows as closed. Caller holds c.mu.
func (c *Client) abandonOpenLocked(conversationID string) {
	c.state = StateClosed
	c.active = ""
	c.list = nil
	delete(c.joined, conversationID)
}

// CloseActive leaves the open conversation and discards its in-memory list.
func (c *Client) CloseActive() {
	c.mu.Lock()
	prev := c.active
	if prev == "" {
		c.mu.Unlock()
		return
	}
	c.active = ""
	c.state = StateClosed
	c.epoch++
	c.list = nil
	delete(c.joined, prev)
	c.mu.Unlock()
	c.leaveRoom(prev)
	c.notify()
}

// MarkRead zeroes a conversation's unread count immediately and tells the
// backend. A failed call re-fetches authoritative counts instead of leaving
// the optimistic zero in place.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.clearUnreadLocked(conversationID)
	c.readLocally[conversationID] = struct{}{}
	c.mu.Unlock()
	c.notify()

	if err := c.api.MarkRead(ctx, conversationID); err != nil {
		c.log.Warn("mark read failed, refreshing counts", "conversation", conversationID, "err", err)
		c.mu.Lock()
		delete(c.readLocally, conversationID)
		c.mu.Unlock()
		if rerr := c.Refresh(ctx); rerr != nil {
			c.log.Warn("count refresh after failed mark read also failed", "err", rerr)
		}
		return err
	}
	return nil
}

// confirmRead is MarkRead's background half used by Open.
func (c *Client) confirmRead(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.api.MarkRead(ctx, conversationID); err != nil {
		c.log.Warn("mark read failed, refreshing counts", "conversation", conversationID, "err", err)
		c.mu.Lock()
		delete(c.readLocally, conversationID)
		c.mu.Unlock()
		if rerr := c.Refresh(ctx); rerr != nil {
			c.log.Warn("count refresh after failed mark read also failed", "err", rerr)
		}
	}
}

// Refresh re-fetches the conversation list and the global unread count and
// reconciles them with local optimistic state. On fetch failure the current
// list simply stays stale; the next refresh heals it.
func (c *Client) Refresh(ctx context.Context) error {
	convs, err := c.api.Conversations(ctx)
	if err != nil {
		c.log.Error("conversation list fetch failed", "err", err)
		return err
	}
	serverTotal, totalErr := c.api.UnreadCount(ctx)
	if totalErr != nil {
		c.log.Warn("unread count fetch failed", "err", totalErr)
	}

	c.mu.Lock()
	suppressed := 0
	for i := range convs {
		if _, ok := c.readLocally[convs[i].ID]; ok {
			// Locally known as read; keep the optimistic zero until the
			// server catches up, so the badge doesn't flicker back.
			suppressed += convs[i].Unread
			convs[i].Unread = 0
		}
		if convs[i].ID == c.active {
			convs[i].Unread = 0
		}
	}
	c.conversations = convs
	if totalErr == nil {
		total := serverTotal - suppressed
		if total < 0 {
			total = 0
		}
		c.totalUnread = total
	} else {
		c.totalUnread = c.sumUnreadLocked()
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// --- snapshots for the view layer ---

// Conversations returns a copy of the conversation list, most recently
// active first.
func (c *Client) Conversations() []models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Conversation, len(c.conversations))
	copy(out, c.conversations)
	sortConversations(out)
	return out
}

// ActiveID returns the open conversation's ID, or "".
func (c *Client) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State returns the open conversation view's lifecycle state.
func (c *Client) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveMessages returns the reconciled message list for the open
// conversation, oldest first.
func (c *Client) ActiveMessages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.list == nil {
		return nil
	}
	return c.list.snapshot()
}

// TotalUnread returns the global unread count.
func (c *Client) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalUnread
}

// TypingIn returns the display names currently typing in a conversation.
// Indicators lapse on their own after the quiet window even if no stop
// event ever arrives.
func (c *Client) TypingIn(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing.activeIn(conversationID, c.now())
}

// ConnectionUp reports whether the push channel is currently connected.
func (c *Client) ConnectionUp() bool {
	return c.tr.Connected()
}

// UserID returns the viewer's identity.
func (c *Client) UserID() string {
	return c.userID
}

func sortConversations(convs []models.Conversation) {
	// Most recent activity first; conversations that never had a message
	// sink to the bottom in stable order.
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
}
