package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pliu/pairchat/internal/metrics"
)

// Envelope is the wire format of every frame sent to a client.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type membership struct {
	client *Client
	room   string
}

// delivery targets exactly one of room, user or client.
type delivery struct {
	room    string
	user    string
	client  *Client
	event   string
	payload []byte
}

// Hub owns all connection state. Only the Run goroutine touches the maps;
// everything else talks to it over unbuffered channels, so a request has
// been taken by the loop by the time the send returns.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Clients by pair key.
	rooms map[string]map[*Client]bool

	// Clients by authenticated identity.
	users map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan delivery
	inspect    chan func()

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan delivery),
		inspect:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run processes hub requests until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			addTo(h.users, client.username, client)
			metrics.Sessions.Inc()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}
		case m := <-h.join:
			if h.clients[m.client] {
				addTo(h.rooms, m.room, m.client)
				m.client.rooms[m.room] = true
			}
		case m := <-h.leave:
			removeFrom(h.rooms, m.room, m.client)
			delete(m.client.rooms, m.room)
		case d := <-h.broadcast:
			h.deliver(d)
		case fn := <-h.inspect:
			fn()
		}
	}
}

// remove drops client from every index and closes its send queue.
func (h *Hub) remove(client *Client) {
	for room := range client.rooms {
		removeFrom(h.rooms, room, client)
	}
	client.rooms = make(map[string]bool)
	removeFrom(h.users, client.username, client)
	delete(h.clients, client)
	close(client.send)
	metrics.Sessions.Dec()
}

func (h *Hub) deliver(d delivery) {
	var targets map[*Client]bool
	switch {
	case d.client != nil:
		if !h.clients[d.client] {
			return
		}
		targets = map[*Client]bool{d.client: true}
	case d.room != "":
		targets = h.rooms[d.room]
	default:
		targets = h.users[d.user]
	}

	for client := range targets {
		select {
		case client.send <- d.payload:
		default:
			slog.Warn("dropping slow websocket client", "user", client.username)
			metrics.DroppedSessions.Inc()
			h.remove(client)
		}
	}
	metrics.Broadcasts.WithLabelValues(d.event).Inc()
}

func addTo(index map[string]map[*Client]bool, key string, client *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]bool)
		index[key] = set
	}
	set[client] = true
}

func removeFrom(index map[string]map[*Client]bool, key string, client *Client) {
	if set, ok := index[key]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

// submit hands a request to the loop unless the hub has stopped.
func submit[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

func encode(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		slog.Error("encoding websocket event", "event", event, "err", err)
		return nil, false
	}
	return b, true
}

// Join adds client to the broadcast group of room.
func (h *Hub) Join(client *Client, room string) {
	submit(h, h.join, membership{client: client, room: room})
}

func (h *Hub) Leave(client *Client, room string) {
	submit(h, h.leave, membership{client: client, room: room})
}

// Emit delivers an event to every session joined to room.
func (h *Hub) Emit(room, event string, payload any) {
	if b, ok := encode(event, payload); ok {
		submit(h, h.broadcast, delivery{room: room, event: event, payload: b})
	}
}

// EmitToUser delivers an event to every session of user.
func (h *Hub) EmitToUser(user, event string, payload any) {
	if b, ok := encode(event, payload); ok {
		submit(h, h.broadcast, delivery{user: user, event: event, payload: b})
	}
}

// Reply delivers an event to one session.
func (h *Hub) Reply(client *Client, event string, payload any) {
	if b, ok := encode(event, payload); ok {
		submit(h, h.broadcast, delivery{client: client, event: event, payload: b})
	}
}

// RoomSize returns the number of sessions joined to room.
func (h *Hub) RoomSize(room string) int {
	n := 0
	ran := make(chan struct{})
	if !submit(h, h.inspect, func() {
		n = len(h.rooms[room])
		close(ran)
	}) {
		return 0
	}
	<-ran
	return n
}

// Sessions returns the number of sessions of user.
func (h *Hub) Sessions(user string) int {
	n := 0
	ran := make(chan struct{})
	if !submit(h, h.inspect, func() {
		n = len(h.users[user])
		close(ran)
	}) {
		return 0
	}
	<-ran
	return n
}
