package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aulalabs/aula/internal/store"
)

func TestGetOrCreateSessionReusesActive(t *testing.T) {
	m := &Store{}
	ctx := context.Background()

	first, err := m.GetOrCreateSession(ctx, "u1", "course-go")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	second, err := m.GetOrCreateSession(ctx, "u1", "course-go")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same session, got %q and %q", first.ID, second.ID)
	}

	other, err := m.GetOrCreateSession(ctx, "u2", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("different users must not share sessions")
	}
}

func TestEndSessionThenCreateNew(t *testing.T) {
	m := &Store{}
	ctx := context.Background()

	first, _ := m.GetOrCreateSession(ctx, "u1", "")
	if err := m.EndSession(ctx, first.ID); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	ended, ok := m.Session(first.ID)
	if !ok || ended.Active || ended.EndedAt == nil {
		t.Fatalf("session not marked ended: %+v", ended)
	}

	second, _ := m.GetOrCreateSession(ctx, "u1", "")
	if second.ID == first.ID {
		t.Fatal("ended session must not be reused")
	}
}

func TestAppendMessageBumpsSessionActivity(t *testing.T) {
	m := &Store{}
	ctx := context.Background()

	sess, err := m.GetOrCreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if sess.MessageCount != 0 {
		t.Fatalf("new session MessageCount = %d, want 0", sess.MessageCount)
	}

	for _, content := range []string{"what is a limit?", "a limit describes behavior near a point"} {
		if _, err := m.AppendMessage(ctx, store.Message{SessionID: sess.ID, Role: "user", Content: content}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	got, _ := m.Session(sess.ID)
	if got.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", got.MessageCount)
	}
	if !got.LastActivityAt.After(sess.LastActivityAt) && !got.LastActivityAt.Equal(sess.LastActivityAt) {
		t.Fatalf("LastActivityAt went backwards: %v -> %v", sess.LastActivityAt, got.LastActivityAt)
	}
	if !got.ExpiresAt.After(sess.CreatedAt) {
		t.Fatalf("ExpiresAt = %v, want after creation %v", got.ExpiresAt, sess.CreatedAt)
	}
}

func TestIdleSessionExpiresAndIsReplaced(t *testing.T) {
	m := &Store{}
	ctx := context.Background()

	first, err := m.GetOrCreateSession(ctx, "u1", "course-go")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}

	// Eight days without a message puts the session past its window.
	m.AgeSession(first.ID, time.Now().Add(-24*time.Hour))

	second, err := m.GetOrCreateSession(ctx, "u1", "course-go")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expired session must not be reused")
	}

	old, ok := m.Session(first.ID)
	if !ok || old.Active || old.EndedAt == nil {
		t.Fatalf("expired session not marked inactive: %+v", old)
	}
	if !second.Active {
		t.Fatal("replacement session must be active")
	}
}

func TestEndSessionUnknown(t *testing.T) {
	m := &Store{}
	err := m.EndSession(context.Background(), "nope")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHistoryLimitAndOrder(t *testing.T) {
	m := &Store{}
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		if _, err := m.AppendMessage(ctx, store.Message{SessionID: "s1", Role: "user", Content: content}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	hist, err := m.History(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 2 || hist[0].Content != "two" || hist[1].Content != "three" {
		t.Fatalf("History() = %+v, want last two in order", hist)
	}
}

func TestAppendMessageDefaultsAndIDs(t *testing.T) {
	m := &Store{}
	msg, err := m.AppendMessage(context.Background(), store.Message{SessionID: "s1", Role: "assistant", Content: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected assigned ID")
	}
	if msg.Type != store.MessageChat {
		t.Fatalf("Type = %q, want %q", msg.Type, store.MessageChat)
	}
	if len(m.AppendCalls) != 1 {
		t.Fatalf("AppendCalls = %d, want 1", len(m.AppendCalls))
	}
}
