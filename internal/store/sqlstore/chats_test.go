package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/pliu/pairchat/internal/pair"
	"github.com/pliu/pairchat/internal/store"
)

func TestRecordActivity(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	key := pair.Key("bob", "alice")
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	if err := testStore.RecordActivity(ctx, store.Activity{PairKey: key, Sender: "alice", Preview: "hi", At: t0}); err != nil {
		t.Fatalf("Failed to record activity: %v", err)
	}
	if err := testStore.RecordActivity(ctx, store.Activity{PairKey: key, Sender: "bob", Preview: "yo", At: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("Failed to record activity: %v", err)
	}
	// Stale activity must not replace the newer row.
	testStore.RecordActivity(ctx, store.Activity{PairKey: key, Sender: "alice", Preview: "late", At: t0.Add(-time.Minute)})

	chats, err := testStore.ListChats(ctx, "alice")
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat, got %d", len(chats))
	}
	c := chats[0]
	if c.UserA != "alice" || c.UserB != "bob" {
		t.Errorf("Expected participants alice/bob, got %s/%s", c.UserA, c.UserB)
	}
	if c.LastPreview != "yo" || c.LastSender != "bob" {
		t.Errorf("Expected latest preview 'yo' from bob, got '%s' from %s", c.LastPreview, c.LastSender)
	}
	if !c.LastAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Unexpected last_at %v", c.LastAt)
	}
}

func TestListChatsOrder(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	testStore.RecordActivity(ctx, store.Activity{PairKey: pair.Key("alice", "bob"), Sender: "alice", Preview: "old", At: t0})
	testStore.RecordActivity(ctx, store.Activity{PairKey: pair.Key("alice", "carol"), Sender: "carol", Preview: "new", At: t0.Add(time.Hour)})
	testStore.RecordActivity(ctx, store.Activity{PairKey: pair.Key("bob", "carol"), Sender: "bob", Preview: "other", At: t0})

	chats, _ := testStore.ListChats(ctx, "alice")
	if len(chats) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(chats))
	}
	if chats[0].PairKey != "alice_carol" {
		t.Errorf("Expected most recent chat first, got %s", chats[0].PairKey)
	}
}

func TestDeleteChat(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()
	ctx := context.Background()

	key := pair.Key("alice", "bob")
	testStore.RecordActivity(ctx, store.Activity{PairKey: key, Sender: "alice", Preview: "hi", At: time.Now()})

	if err := testStore.DeleteChat(ctx, key); err != nil {
		t.Errorf("Failed to delete chat: %v", err)
	}

	chats, _ := testStore.ListChats(ctx, "bob")
	if len(chats) != 0 {
		t.Error("Expected chat to be deleted")
	}
}

func TestRecordActivityInvalidKey(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	err := testStore.RecordActivity(context.Background(), store.Activity{PairKey: "nobody", At: time.Now()})
	if err == nil {
		t.Error("Expected error for malformed pair key")
	}
}
