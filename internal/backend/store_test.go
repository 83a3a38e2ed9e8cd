package backend

import (
	"testing"

	"chatsync/internal/models"
)

var (
	alice = User{ID: "u-alice", Name: "alice", Role: "student"}
	bob   = User{ID: "u-bob", Name: "bob", Role: "tutor"}
)

func seedStore(t *testing.T, msgCount int) (*Store, string) {
	t.Helper()
	s := NewStore()
	s.AddUser(alice)
	s.AddUser(bob)
	conv := s.CreateConversation("conv-1", alice, bob)
	for i := 0; i < msgCount; i++ {
		ref := "ref-" + string(rune('a'+i))
		if _, created, err := s.AppendMessage(ref, bob, conv, "message", models.KindText); err != nil || !created {
			t.Fatalf("AppendMessage %d: created=%v err=%v", i, created, err)
		}
	}
	return s, conv
}

func TestHistoryPagination(t *testing.T) {
	s, conv := seedStore(t, 7)

	page1, err := s.History(conv, 1, 3)
	if err != nil {
		t.Fatalf("History page 1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 size: expected 3, got %d", len(page1))
	}
	page2, _ := s.History(conv, 2, 3)
	page3, _ := s.History(conv, 3, 3)
	page4, _ := s.History(conv, 4, 3)
	if len(page2) != 3 || len(page3) != 1 || len(page4) != 0 {
		t.Fatalf("page sizes: %d %d %d", len(page2), len(page3), len(page4))
	}

	// Page 1 is the newest slice; within a page, oldest first.
	if !page1[0].CreatedAt.Before(page1[2].CreatedAt) {
		t.Fatal("page not oldest-first")
	}
	if !page2[2].CreatedAt.Before(page1[0].CreatedAt) {
		t.Fatal("page 2 should be older than page 1")
	}
}

func TestUnreadFollowsWatermark(t *testing.T) {
	s, conv := seedStore(t, 5)

	if got := s.TotalUnread(alice.ID); got != 5 {
		t.Fatalf("alice unread: expected 5, got %d", got)
	}
	// The sender's own messages never count against them.
	if got := s.TotalUnread(bob.ID); got != 0 {
		t.Fatalf("bob unread: expected 0, got %d", got)
	}

	if _, err := s.MarkRead(conv, alice.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := s.TotalUnread(alice.ID); got != 0 {
		t.Fatalf("alice unread after mark: expected 0, got %d", got)
	}

	// New message after the watermark counts again.
	if _, _, err := s.AppendMessage("ref-new", bob, conv, "another", models.KindText); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	convs := s.ConversationsFor(alice.ID)
	if len(convs) != 1 || convs[0].Unread != 1 {
		t.Fatalf("expected unread 1, got %+v", convs)
	}
	if convs[0].LastMessage != "another" {
		t.Fatalf("preview not updated: %q", convs[0].LastMessage)
	}
}

func TestAppendMessageDedupesByRef(t *testing.T) {
	s, conv := seedStore(t, 0)

	first, created, err := s.AppendMessage("ref-1", alice, conv, "hi", models.KindText)
	if err != nil || !created {
		t.Fatalf("first append: created=%v err=%v", created, err)
	}
	// A retried frame with the same ref returns the prior message.
	second, created, err := s.AppendMessage("ref-1", alice, conv, "hi", models.KindText)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if created {
		t.Fatal("duplicate ref should not create a second message")
	}
	if second.ID != first.ID {
		t.Fatalf("dedupe returned a different message: %s vs %s", second.ID, first.ID)
	}
	msgs, _ := s.History(conv, 1, 50)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(msgs))
	}
}

func TestAppendMessageValidation(t *testing.T) {
	s, conv := seedStore(t, 0)
	if _, _, err := s.AppendMessage("r1", alice, conv, "", models.KindText); err != ErrEmptyBody {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, _, err := s.AppendMessage("r2", alice, conv, "x", "voice"); err != ErrUnknownKind {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, _, err := s.AppendMessage("r3", alice, "nope", "x", models.KindText); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadByComputedFromWatermarks(t *testing.T) {
	s, conv := seedStore(t, 2)
	if _, err := s.MarkRead(conv, alice.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	msgs, _ := s.History(conv, 1, 50)
	for _, m := range msgs {
		if !m.ReadByUser(alice.ID) {
			t.Fatalf("message %s should be read by alice", m.ID)
		}
		// bob sent them, so his watermark covers them too
		if !m.ReadByUser(bob.ID) {
			t.Fatalf("message %s should be read by its sender", m.ID)
		}
	}
}
