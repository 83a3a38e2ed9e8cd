package livesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatsync/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTypingIndicatorExpiresWithoutStopEvent(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	api := &fakeAPI{history: map[string][]models.Message{}}
	tr := &fakeTransport{connected: true}
	c := newTestClient(api, tr, Options{Clock: clk.Now})

	if err := c.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	tr.deliver(t, models.EventTyping, models.TypingPayload{
		ConversationID: "conv-a",
		UserID:         "u-tutor",
		UserName:       "tutor",
		Active:         true,
	})

	if got := c.TypingIn("conv-a"); len(got) != 1 || got[0] != "tutor" {
		t.Fatalf("expected tutor typing, got %v", got)
	}

	// The quiet window passes with no refresh and no stop event.
	clk.Advance(3 * time.Second)
	if got := c.TypingIn("conv-a"); len(got) != 0 {
		t.Fatalf("indicator should have lapsed, got %v", got)
	}
}

func TestTypingIndicatorRefreshExtendsWindow(t *testing.T) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	api := &fakeAPI{history: map[string][]models.Message{}}
	tr := &fakeTransport{connected: true}
	c := newTestClient(api, tr, Options{Clock: clk.Now})

	if err := c.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	start := models.TypingPayload{ConversationID: "conv-a", UserID: "u-tutor", UserName: "tutor", Active: true}
	tr.deliver(t, models.EventTyping, start)
	clk.Advance(1500 * time.Millisecond)
	tr.deliver(t, models.EventTyping, start)
	clk.Advance(1500 * time.Millisecond)

	if got := c.TypingIn("conv-a"); len(got) != 1 {
		t.Fatalf("refreshed indicator should still be live, got %v", got)
	}

	tr.deliver(t, models.EventTyping, models.TypingPayload{
		ConversationID: "conv-a", UserID: "u-tutor", Active: false,
	})
	if got := c.TypingIn("conv-a"); len(got) != 0 {
		t.Fatalf("explicit stop should clear the indicator, got %v", got)
	}
}

func TestOwnTypingEchoIgnored(t *testing.T) {
	api := &fakeAPI{history: map[string][]models.Message{}}
	tr := &fakeTransport{connected: true}
	c := newTestClient(api, tr, Options{})

	if err := c.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr.deliver(t, models.EventTyping, models.TypingPayload{
		ConversationID: "conv-a", UserID: "u-me", UserName: "me", Active: true,
	})
	if got := c.TypingIn("conv-a"); len(got) != 0 {
		t.Fatalf("own echo should be ignored, got %v", got)
	}
}

func TestTypingStopFollowsOriginatingConversation(t *testing.T) {
	api := &fakeAPI{history: map[string][]models.Message{}}
	tr := &fakeTransport{connected: true}
	c := newTestClient(api, tr, Options{TypingTTL: 30 * time.Millisecond})

	if err := c.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Open conv-a: %v", err)
	}
	c.Typing()

	// The user switches away before the quiet window lapses; the stop
	// frame still belongs to the conversation the typing started in.
	if err := c.Open(context.Background(), "conv-b"); err != nil {
		t.Fatalf("Open conv-b: %v", err)
	}

	typingFrames := func() []models.TypingPayload {
		var out []models.TypingPayload
		for _, data := range tr.frames(models.EventTyping) {
			var p models.TypingPayload
			if json.Unmarshal(data, &p) == nil {
				out = append(out, p)
			}
		}
		return out
	}

	waitUntil(t, func() bool { return len(typingFrames()) == 2 })
	frames := typingFrames()
	if frames[0].ConversationID != "conv-a" || !frames[0].Active {
		t.Fatalf("expected start frame for conv-a, got %+v", frames[0])
	}
	if frames[1].ConversationID != "conv-a" || frames[1].Active {
		t.Fatalf("stop frame should name conv-a, got %+v", frames[1])
	}
}

func TestSenderTypingDebounce(t *testing.T) {
	api := &fakeAPI{history: map[string][]models.Message{}}
	tr := &fakeTransport{connected: true}
	c := newTestClient(api, tr, Options{TypingTTL: 30 * time.Millisecond})

	if err := c.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// A burst of keystrokes sends exactly one start frame.
	c.Typing()
	c.Typing()
	c.Typing()

	typingFrames := func() []models.TypingPayload {
		var out []models.TypingPayload
		for _, data := range tr.frames(models.EventTyping) {
			var p models.TypingPayload
			if json.Unmarshal(data, &p) == nil {
				out = append(out, p)
			}
		}
		return out
	}

	frames := typingFrames()
	if len(frames) != 1 || !frames[0].Active {
		t.Fatalf("expected one start frame, got %+v", frames)
	}

	// After the quiet window the stop frame follows on its own.
	waitUntil(t, func() bool {
		frames := typingFrames()
		return len(frames) == 2 && !frames[1].Active
	})
}
