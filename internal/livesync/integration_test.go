package livesync_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/backend"
	"chatsync/internal/livesync"
	"chatsync/internal/transport"
)

// These tests run the whole stack: a real backend on a loopback listener,
// the REST client, the WebSocket transport and two sync clients talking to
// each other through them.

type participant struct {
	user   backend.User
	client *livesync.Client
}

func startStack(t *testing.T) (*backend.Server, string, string) {
	t.Helper()
	srv := backend.New("it-secret", slog.New(slog.NewTextHandler(io.Discard, nil)))
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
	addr := ln.Addr().String()
	return srv, "http://" + addr, "ws://" + addr + "/ws"
}

func startParticipant(t *testing.T, srv *backend.Server, base, wsURL string, u backend.User) *participant {
	t.Helper()
	token, err := srv.TokenFor(u, time.Hour)
	if err != nil {
		t.Fatalf("TokenFor %s: %v", u.ID, err)
	}
	tokenFn := func(context.Context) (string, error) { return token, nil }
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	rest := api.New(base, tokenFn, api.WithLogger(quiet))
	tr := transport.NewManager(wsURL, tokenFn,
		transport.WithLogger(quiet),
		transport.WithReconnectInterval(50*time.Millisecond))
	c := livesync.New(rest, tr, livesync.Options{
		UserID:        u.ID,
		UserName:      u.Name,
		AckTimeout:    2 * time.Second,
		SendRetryBase: 20 * time.Millisecond,
		Logger:        quiet,
	})
	c.Connect()
	t.Cleanup(func() { _ = c.Close() })

	waitFor(t, 5*time.Second, c.ConnectionUp)
	return &participant{user: u, client: c}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestLiveConversationBetweenTwoClients(t *testing.T) {
	srv, base, wsURL := startStack(t)
	alice := backend.User{ID: "it-alice", Name: "alice", Role: "student"}
	bob := backend.User{ID: "it-bob", Name: "bob", Role: "tutor"}
	srv.Store().AddUser(alice)
	srv.Store().AddUser(bob)
	conv := srv.Store().CreateConversation("it-conv", alice, bob)

	a := startParticipant(t, srv, base, wsURL, alice)
	b := startParticipant(t, srv, base, wsURL, bob)
	ctx := context.Background()

	if err := a.client.Open(ctx, conv); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if err := b.client.Open(ctx, conv); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	a.client.Send("hello from alice")

	// Alice sees her own message echoed once the ack lands; bob receives
	// the broadcast over his push channel.
	waitFor(t, 5*time.Second, func() bool {
		return len(a.client.ActiveMessages()) == 1
	})
	waitFor(t, 5*time.Second, func() bool {
		msgs := b.client.ActiveMessages()
		return len(msgs) == 1 && msgs[0].Body == "hello from alice" && msgs[0].SenderID == alice.ID
	})
	if len(a.client.FailedSends()) != 0 {
		t.Fatalf("unexpected failed sends: %+v", a.client.FailedSends())
	}

	// An open conversation never accrues unread.
	if got := b.client.TotalUnread(); got != 0 {
		t.Fatalf("bob unread while viewing: expected 0, got %d", got)
	}
}

func TestPushBumpsUnreadForClosedConversation(t *testing.T) {
	srv, base, wsURL := startStack(t)
	alice := backend.User{ID: "it-alice", Name: "alice", Role: "student"}
	bob := backend.User{ID: "it-bob", Name: "bob", Role: "tutor"}
	srv.Store().AddUser(alice)
	srv.Store().AddUser(bob)
	conv := srv.Store().CreateConversation("it-conv", alice, bob)

	a := startParticipant(t, srv, base, wsURL, alice)
	b := startParticipant(t, srv, base, wsURL, bob)
	ctx := context.Background()

	// Bob loads his list but never opens the conversation.
	if err := b.client.Refresh(ctx); err != nil {
		t.Fatalf("bob refresh: %v", err)
	}
	if err := a.client.Open(ctx, conv); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	a.client.Send("ping")

	waitFor(t, 5*time.Second, func() bool {
		return b.client.TotalUnread() == 1
	})
	convs := b.client.Conversations()
	if len(convs) != 1 || convs[0].Unread != 1 || convs[0].LastMessage != "ping" {
		t.Fatalf("unexpected bob listing: %+v", convs)
	}

	// Opening the conversation zeroes the count and tells the backend.
	if err := b.client.Open(ctx, conv); err != nil {
		t.Fatalf("bob open: %v", err)
	}
	if got := b.client.TotalUnread(); got != 0 {
		t.Fatalf("bob unread after open: expected 0, got %d", got)
	}
	waitFor(t, 5*time.Second, func() bool {
		return srv.Store().TotalUnread(bob.ID) == 0
	})
}

func TestDroppedFrameIsRetriedWithSameRef(t *testing.T) {
	srv, base, wsURL := startStack(t)
	alice := backend.User{ID: "it-alice", Name: "alice", Role: "student"}
	bob := backend.User{ID: "it-bob", Name: "bob", Role: "tutor"}
	srv.Store().AddUser(alice)
	srv.Store().AddUser(bob)
	conv := srv.Store().CreateConversation("it-conv", alice, bob)

	a := startParticipant(t, srv, base, wsURL, alice)
	ctx := context.Background()
	if err := a.client.Open(ctx, conv); err != nil {
		t.Fatalf("open: %v", err)
	}

	// The server swallows the next send frame; the ack timeout fires and
	// the client retries with the same correlation ref, so exactly one
	// message is stored.
	srv.DropSends(1)
	a.client.Send("retry me")

	waitFor(t, 15*time.Second, func() bool {
		return len(a.client.ActiveMessages()) == 1
	})
	msgs, err := srv.Store().History(conv, 1, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "retry me" {
		t.Fatalf("expected exactly one stored message, got %+v", msgs)
	}
}

func TestTypingIndicatorFlowsBetweenClients(t *testing.T) {
	srv, base, wsURL := startStack(t)
	alice := backend.User{ID: "it-alice", Name: "alice", Role: "student"}
	bob := backend.User{ID: "it-bob", Name: "bob", Role: "tutor"}
	srv.Store().AddUser(alice)
	srv.Store().AddUser(bob)
	conv := srv.Store().CreateConversation("it-conv", alice, bob)

	a := startParticipant(t, srv, base, wsURL, alice)
	b := startParticipant(t, srv, base, wsURL, bob)
	ctx := context.Background()
	if err := a.client.Open(ctx, conv); err != nil {
		t.Fatalf("alice open: %v", err)
	}
	if err := b.client.Open(ctx, conv); err != nil {
		t.Fatalf("bob open: %v", err)
	}

	a.client.Typing()

	waitFor(t, 5*time.Second, func() bool {
		names := b.client.TypingIn(conv)
		return len(names) == 1 && names[0] == "alice"
	})
	// The sender never sees their own indicator.
	if names := a.client.TypingIn(conv); len(names) != 0 {
		t.Fatalf("alice sees own typing echo: %v", names)
	}
}
