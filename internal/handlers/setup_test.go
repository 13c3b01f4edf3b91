package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pliu/pairchat/internal/auth"
	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/middleware"
	"github.com/pliu/pairchat/internal/store/pairstore"
	"github.com/pliu/pairchat/internal/store/sqlstore"
)

type emitted struct {
	Target string
	Event  string
}

type fakeHub struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeHub) Emit(room, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Target: room, Event: event})
}

func (f *fakeHub) EmitToUser(user, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Target: "user:" + user, Event: event})
}

func (f *fakeHub) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type testEnv struct {
	dir     *sqlstore.SQLStore
	stores  *pairstore.Registry
	hub     *fakeHub
	service *chat.Service
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open directory: %v", err)
	}
	stores, err := pairstore.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(func() {
		stores.Close()
		dir.Close()
	})
	hub := &fakeHub{}
	return &testEnv{dir: dir, stores: stores, hub: hub, service: chat.New(stores, dir, hub)}
}

func (e *testEnv) register(t *testing.T, username string) {
	t.Helper()
	hash, err := auth.HashPassword("Str0ng!Pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.dir.Register(context.Background(), username, hash); err != nil {
		t.Fatalf("Failed to register %s: %v", username, err)
	}
}

// asUser attaches an authenticated session user to req.
func asUser(req *http.Request, username string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserKey, username))
}
