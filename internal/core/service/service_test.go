package service

import (
	"context"
	"sync"
	"testing"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/storage/memory"
)

// sentEvent is one recorded fan-out delivery. Room sends are recorded per
// room; direct and multi-conn sends are recorded per connection.
type sentEvent struct {
	ConnID  string
	Room    string
	Event   string
	Payload any
}

// mockBroadcaster records deliveries and serves a configurable room
// membership as transport ground truth.
type mockBroadcaster struct {
	mu    sync.Mutex
	rooms map[string][]string
	sent  []sentEvent
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{rooms: make(map[string][]string)}
}

func (b *mockBroadcaster) Send(connID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{ConnID: connID, Event: event, Payload: payload})
}

func (b *mockBroadcaster) SendRoom(sessionID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{Room: sessionID, Event: event, Payload: payload})
}

func (b *mockBroadcaster) SendConns(connIDs []string, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range connIDs {
		b.sent = append(b.sent, sentEvent{ConnID: id, Event: event, Payload: payload})
	}
}

func (b *mockBroadcaster) RoomConns(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.rooms[sessionID]...)
}

func (b *mockBroadcaster) setRoom(sessionID string, conns ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[sessionID] = conns
}

// eventsOf returns all recorded deliveries of the named event.
func (b *mockBroadcaster) eventsOf(event string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// connsOf returns the connection IDs that received the named event.
func (b *mockBroadcaster) connsOf(event string) []string {
	var conns []string
	for _, e := range b.eventsOf(event) {
		if e.ConnID != "" {
			conns = append(conns, e.ConnID)
		}
	}
	return conns
}

func (b *mockBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
}

// seedSession creates a session with the given authorized members, keyed
// conn ID -> client ID. All members share one coarse environment
// fingerprint, the common case for peers running the same client build.
func seedSession(t *testing.T, store *memory.Store, sessionID string, members map[string]string) {
	t.Helper()
	sess := domain.NewSession(sessionID, "")
	for connID, clientID := range members {
		m := domain.NewMember(connID, clientID, "peer-"+clientID, "chrome-linux")
		m.Authorized = true
		sess.Members[connID] = m
	}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session %s: %v", sessionID, err)
	}
}
