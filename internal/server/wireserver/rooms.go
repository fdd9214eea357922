package wireserver

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipmesh/clipmesh-go/pkg/cmap"
)

// Conn is one connected peer.
type Conn struct {
	id      string
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer

	// writeMu serializes all writes to the peer. Request replies and
	// unsolicited events share the socket; per-connection write order is
	// the ordering guarantee chunked transfers rely on.
	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu        sync.Mutex
	sessionID string

	closed atomic.Bool
}

func newConn(id string, c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           id,
		netConn:      c,
		br:           bufio.NewReaderSize(c, 64*1024),
		bw:           bufio.NewWriterSize(c, 64*1024),
		writeTimeout: writeTimeout,
	}
}

// ID returns the transport handle identifying this connection.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Session returns the session this connection is bound to, if any.
func (c *Conn) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// BindSession records the session this connection joined.
func (c *Conn) BindSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// write sends one envelope under the write lock with a deadline.
func (c *Conn) write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := WriteEnvelope(c.bw, env); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Hub tracks live connections and their session rooms, and implements the
// services' Broadcaster. Event delivery is fire-and-forget: a failed write
// closes the connection and the liveness machinery cleans up the member.
type Hub struct {
	conns  *cmap.Map[*Conn]
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]*Conn
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  cmap.New[*Conn](),
		logger: logger,
		rooms:  make(map[string]map[string]*Conn),
	}
}

// Register adds a live connection.
func (h *Hub) Register(c *Conn) {
	h.conns.Set(c.id, c)
}

// Unregister removes a connection and takes it out of its room.
func (h *Hub) Unregister(connID string) {
	c, ok := h.conns.Pop(connID)
	if !ok {
		return
	}
	if sessionID := c.Session(); sessionID != "" {
		h.LeaveRoom(sessionID, connID)
	}
}

// JoinRoom attaches a connection to a session room.
func (h *Hub) JoinRoom(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[sessionID] = room
	}
	room[c.id] = c
}

// LeaveRoom detaches a connection from a session room. Empty rooms are
// dropped; the session record itself lives in the store.
func (h *Hub) LeaveRoom(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Send delivers an event to a single connection.
func (h *Hub) Send(connID, event string, payload any) {
	c, ok := h.conns.Get(connID)
	if !ok {
		return
	}
	h.deliver(c, event, payload)
}

// SendRoom delivers an event to every connection in a session room.
func (h *Hub) SendRoom(sessionID, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[sessionID]))
	for _, c := range h.rooms[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, event, payload)
	}
}

// SendConns delivers an event to an explicit set of connections.
func (h *Hub) SendConns(connIDs []string, event string, payload any) {
	for _, id := range connIDs {
		h.Send(id, event, payload)
	}
}

// RoomConns returns the connection IDs currently attached to a room. This
// is the transport ground truth the force reconciliation trusts.
func (h *Hub) RoomConns(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[sessionID]))
	for id := range h.rooms[sessionID] {
		ids = append(ids, id)
	}
	return ids
}

// Conn returns a live connection by ID.
func (h *Hub) Conn(connID string) (*Conn, bool) {
	return h.conns.Get(connID)
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	return h.conns.Count()
}

func (h *Hub) deliver(c *Conn, event string, payload any) {
	env, err := NewEvent(event, payload)
	if err != nil {
		h.logger.Error("event marshal failed", "event", event, "error", err)
		return
	}
	if err := c.write(env); err != nil {
		h.logger.Debug("event write failed, closing connection",
			"conn_id", c.id,
			"event", event,
			"error", err)
		_ = c.Close()
	}
}
