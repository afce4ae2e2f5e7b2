package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", []byte("hash")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}
	missing, err := store.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil user for unknown name, got %+v err=%v", missing, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateUser(ctx, "bob", []byte("hash")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, "bob", "token123", exp); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.Username != "bob" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	session, err = store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateMessage(ctx, "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected server-assigned id")
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected server-assigned timestamp")
	}

	// lookup works with the pair in either order
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		messages, err := store.ListConversation(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("ListConversation(%s,%s): %v", pair[0], pair[1], err)
		}
		if len(messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(messages))
		}
		got := messages[0]
		if got.SenderID != "alice" || got.ReceiverID != "bob" || got.Content != "hi" {
			t.Fatalf("unexpected message: %+v", got)
		}
	}
}

func TestMessageOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateMessage(ctx, "alice", "bob", "first"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := store.CreateMessage(ctx, "bob", "alice", "second"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := store.CreateMessage(ctx, "alice", "bob", "third"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	messages, err := store.ListConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(messages))
	}
	for i, content := range want {
		if messages[i].Content != content {
			t.Fatalf("position %d: expected %q, got %q", i, content, messages[i].Content)
		}
	}
	// messages with a third party stay out of this conversation
	if _, err := store.CreateMessage(ctx, "alice", "carol", "aside"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	messages, err = store.ListConversation(ctx, "alice", "bob")
	if err != nil || len(messages) != 3 {
		t.Fatalf("expected conversation unchanged, got %d err=%v", len(messages), err)
	}
}

func TestMessageValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateMessage(ctx, "alice", "bob", "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for blank content, got %v", err)
	}
	if _, err := store.CreateMessage(ctx, "alice", "alice", "hi me"); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for self message, got %v", err)
	}
	messages, err := store.ListConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("rejected messages must not be persisted, got %d", len(messages))
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
