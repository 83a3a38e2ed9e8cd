// Package transport owns the persistent push channel: one authenticated
// WebSocket connection per widget, with automatic fixed-interval
// reconnection. The manager is an injected dependency of the sync client,
// never a package-level singleton, so its lifecycle is owned by whoever
// constructed it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"chatsync/internal/models"
)

// ErrNotConnected is returned by Send while the channel is down. Callers
// treat it as a failed attempt; the manager keeps retrying on its own.
var ErrNotConnected = errors.New("transport: not connected")

// ErrBufferFull is returned when the outbound queue is saturated.
var ErrBufferFull = errors.New("transport: send buffer full")

// TokenFunc returns the bearer credential for the next connection attempt.
type TokenFunc func(ctx context.Context) (string, error)

// Handler receives every inbound envelope from the channel.
type Handler func(models.Envelope)

const sendBuffer = 32

// wsConn bundles one live connection with its outbound queue. The write
// pump is the only goroutine writing to the gorilla conn.
type wsConn struct {
	c    *websocket.Conn
	send chan models.Envelope
	done chan struct{}
}

// Manager dials the backend's /ws endpoint and keeps the connection alive
// with a fixed-interval retry loop: no backoff, no attempt cap. The channel
// carries no exactly-once guarantee, so frequent reconnects (backgrounded
// tabs, network blips) are expected and cheap.
type Manager struct {
	wsURL    string
	token    TokenFunc
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration

	onEvent   Handler
	onConnect func()

	mu      sync.Mutex
	started bool
	cur     *wsConn
	stop    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; slog.Default() is used when unset.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithReconnectInterval overrides the retry interval between attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager builds a Manager for the given WebSocket URL
// (e.g. "ws://host:3001/ws").
func NewManager(wsURL string, token TokenFunc, opts ...Option) *Manager {
	m := &Manager{
		wsURL:    wsURL,
		token:    token,
		log:      slog.Default(),
		interval: 5 * time.Second,
		timeout:  10 * time.Second,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEvent registers the inbound event handler. Must be set before Connect.
func (m *Manager) OnEvent(h func(models.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = h
}

// OnConnect registers a hook fired after every successful (re)connect. Room
// membership does not survive a transport reconnect, so the subscription
// registry uses this to re-join its rooms.
func (m *Manager) OnConnect(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = f
}

// Connect starts the connection loop. Idempotent when already started. A
// failed credential fetch leaves the manager disconnected and silent; the
// surrounding UI tolerates an absent connection rather than surfacing an
// error for every blip.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

// Connected reports whether the channel is currently up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// Send enqueues an envelope for the write pump. Returns ErrNotConnected
// while the channel is down.
func (m *Manager) Send(env models.Envelope) error {
	m.mu.Lock()
	cw := m.cur
	m.mu.Unlock()
	if cw == nil {
		return ErrNotConnected
	}
	select {
	case cw.send <- env:
		return nil
	case <-cw.done:
		return ErrNotConnected
	default:
		return ErrBufferFull
	}
}

// Close tears down the channel and stops the retry loop. Must be called
// when the widget unmounts so the connection does not leak across
// navigations.
func (m *Manager) Close() error {
	m.mu.Lock()
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	cw := m.cur
	m.cur = nil
	m.mu.Unlock()
	if cw != nil {
		cw.c.Close()
	}
	return nil
}

func (m *Manager) run() {
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		conn, err := m.dial()
		if err != nil {
			m.log.Debug("push channel connect failed", "err", err)
		} else {
			cw := &wsConn{
				c:    conn,
				send: make(chan models.Envelope, sendBuffer),
				done: make(chan struct{}),
			}
			m.mu.Lock()
			select {
			case <-m.stop:
				// Close raced the dial; the fresh connection must not
				// outlive the manager.
				m.mu.Unlock()
				conn.Close()
				return
			default:
			}
			m.cur = cw
			hook := m.onConnect
			m.mu.Unlock()

			if hook != nil {
				hook()
			}
			go m.writePump(cw)
			m.readLoop(cw)

			m.mu.Lock()
			if m.cur == cw {
				m.cur = nil
			}
			m.mu.Unlock()
		}

		select {
		case <-m.stop:
			return
		case <-time.After(m.interval):
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	tok, err := m.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	if err := checkExpiry(tok); err != nil {
		return nil, err
	}

	u, err := url.Parse(m.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", tok)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// checkExpiry inspects the credential's exp claim without verifying the
// signature; verification is the server's job. A token that is already
// expired would just burn a dial round-trip.
func checkExpiry(tok string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		// Opaque non-JWT credentials pass through untouched.
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return errors.New("credential expired")
	}
	return nil
}

func (m *Manager) writePump(cw *wsConn) {
	for {
		select {
		case env := <-cw.send:
			if err := cw.c.WriteJSON(env); err != nil {
				m.log.Debug("push channel write failed", "err", err)
				cw.c.Close()
				return
			}
		case <-cw.done:
			return
		}
	}
}

func (m *Manager) readLoop(cw *wsConn) {
	defer close(cw.done)
	defer cw.c.Close()
	for {
		_, raw, err := cw.c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.Debug("push channel closed", "err", err)
			}
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are logged and discarded, never fatal
			// to the connection.
			m.log.Warn("discarding malformed push frame", "err", err)
			continue
		}
		m.mu.Lock()
		h := m.onEvent
		m.mu.Unlock()
		if h != nil {
			h(env)
		}
	}
}
