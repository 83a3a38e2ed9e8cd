package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"chatsync/internal/backend"
	"chatsync/internal/models"
)

// startBackend boots a real backend on a loopback listener and returns its
// base URL plus the server for seeding fixtures.
func startBackend(t *testing.T) (*backend.Server, string) {
	t.Helper()
	srv := backend.New("test-secret", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		if err := srv.Listener(ln); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, "http://" + ln.Addr().String()
}

func staticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestClientAgainstBackend(t *testing.T) {
	srv, base := startBackend(t)
	me := backend.User{ID: "u-me", Name: "me", Role: "student"}
	peer := backend.User{ID: "u-peer", Name: "peer", Role: "tutor"}
	srv.Store().AddUser(me)
	srv.Store().AddUser(peer)
	conv := srv.Store().CreateConversation("conv-1", me, peer)
	for i := 0; i < 5; i++ {
		if _, _, err := srv.Store().AppendMessage("ref-"+string(rune('a'+i)), peer, conv, "hey", models.KindText); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	token, err := srv.TokenFor(me, time.Hour)
	if err != nil {
		t.Fatalf("TokenFor: %v", err)
	}
	c := New(base, staticToken(token))
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv || convs[0].Unread != 5 {
		t.Fatalf("unexpected conversations: %+v", convs)
	}

	count, err := c.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 5 {
		t.Fatalf("unread count: expected 5, got %d", count)
	}

	page, err := c.History(ctx, conv, 1, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("history page: expected 3, got %d", len(page))
	}
	if !page[0].CreatedAt.Before(page[2].CreatedAt) {
		t.Fatal("history page not oldest-first")
	}

	if err := c.MarkRead(ctx, conv); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	count, err = c.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("UnreadCount after mark: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread after mark: expected 0, got %d", count)
	}
}

func TestClientSurfacesStatusErrors(t *testing.T) {
	srv, base := startBackend(t)
	me := backend.User{ID: "u-me", Name: "me", Role: "student"}
	srv.Store().AddUser(me)
	token, err := srv.TokenFor(me, time.Hour)
	if err != nil {
		t.Fatalf("TokenFor: %v", err)
	}
	ctx := context.Background()

	c := New(base, staticToken("not-a-token"))
	_, err = c.Conversations(ctx)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 401 {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}

	c = New(base, staticToken(token))
	_, err = c.History(ctx, "no-such-conversation", 1, 50)
	if !errors.As(err, &se) || se.Status != 403 {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
}

func TestClientLogsRejectedRequests(t *testing.T) {
	srv, base := startBackend(t)
	me := backend.User{ID: "u-me", Name: "me", Role: "student"}
	srv.Store().AddUser(me)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(base, staticToken("not-a-token"), WithLogger(logger))

	if _, err := c.Conversations(context.Background()); err == nil {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(buf.String(), "request rejected") {
		t.Fatalf("rejection not logged: %q", buf.String())
	}
}

func TestClientPropagatesTokenFuncError(t *testing.T) {
	c := New("http://127.0.0.1:1", func(context.Context) (string, error) {
		return "", errors.New("keychain locked")
	})
	if _, err := c.Conversations(context.Background()); err == nil {
		t.Fatal("expected credential error")
	}
}
