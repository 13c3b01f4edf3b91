package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/ws"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startSocketServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := setupEnv(t)
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	env.service.Hub = hub

	handler := &SocketHandler{Service: env.service, Hub: hub}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeWs(w, asUser(r, r.URL.Query().Get("as")))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return env, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?as=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("Failed to write %s: %v", event, err)
	}
}

// readUntil returns the first frame with the given event name.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("Failed waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func TestSocketSendMessage(t *testing.T) {
	env, srv := startSocketServer(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	// Typing goes to the room, so an echo confirms the join was handled.
	emit(t, bob, EventJoinChat, chat.Pair{UserA: "alice", UserB: "bob"})
	emit(t, bob, EventStopTyping, map[string]string{"sender": "bob", "receiver": "alice"})
	readUntil(t, bob, chat.EventStopTyping)
	emit(t, alice, EventJoinChat, chat.Pair{UserA: "bob", UserB: "alice"})
	emit(t, alice, EventTyping, map[string]string{"sender": "alice", "receiver": "bob"})
	readUntil(t, alice, chat.EventTyping)

	emit(t, alice, EventSendMessage, map[string]any{
		"sender":    "alice",
		"receiver":  "bob",
		"message":   "hello bob",
		"timestamp": "2001-01-01T00:00:00Z",
	})

	f := readUntil(t, bob, chat.EventReceiveMessage)
	var msg struct {
		Sender  string    `json:"sender"`
		Message string    `json:"message"`
		Created time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Sender != "alice" || msg.Message != "hello bob" {
		t.Errorf("Unexpected message: %+v", msg)
	}
	if msg.Created.Year() == 2001 {
		t.Error("Expected the server to assign createdAt")
	}
	readUntil(t, bob, chat.EventUpdateChatList)

	history, err := env.service.History(context.Background(), chat.Pair{UserA: "alice", UserB: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 persisted message, got %d", len(history))
	}
}

func TestSocketRejectsImpersonation(t *testing.T) {
	env, srv := startSocketServer(t)
	mallory := dial(t, srv, "mallory")

	emit(t, mallory, EventSendMessage, map[string]any{"sender": "alice", "receiver": "bob", "message": "hi"})
	f := readUntil(t, mallory, "error")
	if !strings.Contains(string(f.Data), EventSendMessage) {
		t.Errorf("Expected error to name the event, got %s", f.Data)
	}

	emit(t, mallory, EventJoinChat, chat.Pair{UserA: "alice", UserB: "bob"})
	readUntil(t, mallory, "error")

	if env.stores.Exists("alice_bob") {
		t.Error("Rejected events must not provision a store")
	}
}

func TestSocketShareUpload(t *testing.T) {
	env, srv := startSocketServer(t)
	alice := dial(t, srv, "alice")

	emit(t, alice, EventSendMessage, map[string]any{
		"sender":   "alice",
		"receiver": "bob",
		"fileData": map[string]any{"uploadId": 42},
	})
	f := readUntil(t, alice, "error")
	if !strings.Contains(string(f.Data), "upload not found") {
		t.Errorf("Expected upload not found, got %s", f.Data)
	}

	orig, err := env.service.SendFile(context.Background(), chat.Upload{
		Uploader:         "alice",
		Receiver:         "bob",
		OriginalFilename: "a.png",
		StoredPath:       "/tmp/a.png",
		URL:              "/uploads/a.png",
		MimeType:         "image/png",
	})
	if err != nil {
		t.Fatal(err)
	}
	emit(t, alice, EventJoinChat, chat.Pair{UserA: "alice", UserB: "bob"})
	emit(t, alice, EventSendMessage, map[string]any{
		"sender":   "alice",
		"receiver": "bob",
		"fileData": map[string]any{"uploadId": orig.Upload.ID},
	})
	f = readUntil(t, alice, chat.EventReceiveMessage)
	if !strings.Contains(string(f.Data), "a.png") {
		t.Errorf("Expected shared upload in payload, got %s", f.Data)
	}
}

func TestSocketMalformedEvent(t *testing.T) {
	_, srv := startSocketServer(t)
	alice := dial(t, srv, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, alice, "error")

	emit(t, alice, "dance", nil)
	f := readUntil(t, alice, "error")
	if !strings.Contains(string(f.Data), "unknown event") {
		t.Errorf("Expected unknown event error, got %s", f.Data)
	}
}
