// Package api is the REST side of the sync client: the four endpoints the
// backend exposes for conversation lists, unread counts, paginated history
// and mark-as-read.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/models"
)

// TokenFunc returns the bearer credential for the next request. The client
// treats the token as an opaque string refreshed per call.
type TokenFunc func(ctx context.Context) (string, error)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Client calls the backend REST surface.
type Client struct {
	base  string
	http  *http.Client
	token TokenFunc
	log   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger; slog.Default() is used when unset.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a Client for the backend at baseURL (e.g. "http://host:3001").
func New(baseURL string, token TokenFunc, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 10 * time.Second},
		token: token,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversations returns the viewer's conversation list with per-conversation
// unread counts and last-message previews.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.get(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount returns the viewer's global unread count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/api/conversations/unread/count", &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// History fetches one page of a conversation's message history. Page 1 is
// the newest page; messages within a page come back oldest first.
func (c *Client) History(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	path := "/api/messages/conversation/" + url.PathEscape(conversationID) +
		"?page=" + strconv.Itoa(page) + "&page_size=" + strconv.Itoa(pageSize)
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkRead advances the viewer's read watermark for the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPut, path, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", "method", method, "path", path, "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return &StatusError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts the backend's {"error": "..."} body if present.
func errorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(body))
}
