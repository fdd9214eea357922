// Package service provides the domain services for ClipMesh: session
// registry, join verification, clipboard conflict resolution, liveness
// tracking and chunk relay.
//
// Services never talk to the transport directly; they fan out through the
// Broadcaster interface, and all session state goes through SessionStore,
// which serializes mutation per session.
package service

import (
	"context"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
)

// SessionStore is the storage interface for sessions. It is injected into
// every service; the in-memory implementation lives in storage/memory and
// is the hook point for a future persistent backend.
type SessionStore interface {
	// Create stores a new session; fails if the ID is taken.
	Create(ctx context.Context, session *domain.Session) error

	// Exists reports whether the session ID is known.
	Exists(ctx context.Context, id string) bool

	// View runs fn with the session locked for reading.
	View(ctx context.Context, id string, fn func(*domain.Session) error) error

	// Mutate runs fn with the session locked for read-modify-write.
	// fn runs to completion before any other access to the same session.
	Mutate(ctx context.Context, id string, fn func(*domain.Session) error) error

	// IDs returns all known session IDs.
	IDs() []string

	// Count returns the number of known sessions.
	Count() int
}

// Broadcaster is the transport fan-out used by the services. All sends are
// fire-and-forget: no acknowledgment is tracked and a missed event is only
// corrected by the next accepted update or an explicit client refresh.
type Broadcaster interface {
	// Send delivers an event to a single connection.
	Send(connID, event string, payload any)

	// SendRoom delivers an event to every connection in a session room.
	SendRoom(sessionID, event string, payload any)

	// SendConns delivers an event to an explicit set of connections.
	SendConns(connIDs []string, event string, payload any)

	// RoomConns returns the transport ground truth: the connection IDs
	// currently attached to the session room.
	RoomConns(sessionID string) []string
}

// Event names emitted to session peers. Peers consume these as opaque
// events; the server never inspects the payload content it relays.
const (
	EventVerifyJoinRequest   = "verify-join-request"
	EventVerificationResult  = "verification-result"
	EventVerificationTimeout = "verification-timeout"
	EventSessionBanned       = "session-banned"
	EventMemberJoined        = "member-joined"
	EventMemberLeft          = "member-left"
	EventMemberCount         = "member-count-update"
	EventMemberList          = "member-list-update"
	EventClipboard           = "clipboard-broadcast"
	EventFileBroadcast       = "file-broadcast"
	EventFileMetadata        = "file-metadata"
	EventFileChunk           = "file-chunk"
	EventLivenessProbe       = "liveness-probe"
	EventSessionInvalid      = "session-invalid"
)

// RosterPayload is the body of member-list-update events.
type RosterPayload struct {
	SessionID string              `json:"session_id"`
	Members   []domain.MemberInfo `json:"members"`
}

// CountPayload is the body of member-count-update events.
type CountPayload struct {
	SessionID   string `json:"session_id"`
	ActiveCount int    `json:"active_count"`
	TotalCount  int    `json:"total_count"`
}

// MemberEventPayload is the body of member-joined and member-left events.
type MemberEventPayload struct {
	SessionID string            `json:"session_id"`
	Member    domain.MemberInfo `json:"member"`
}

// ProbePayload is the body of liveness-probe events.
type ProbePayload struct {
	SessionID string `json:"session_id"`
	SentAt    int64  `json:"sent_at"` // Unix milliseconds
}

// SessionInvalidPayload tells a member its session binding is no longer
// valid and it must re-run the join flow.
type SessionInvalidPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// broadcastRoster sends the full roster and the active count to the whole
// session room. Callers hold no session lock.
func broadcastRoster(b Broadcaster, sessionID string, roster []domain.MemberInfo, activeCount int) {
	b.SendRoom(sessionID, EventMemberList, RosterPayload{
		SessionID: sessionID,
		Members:   roster,
	})
	b.SendRoom(sessionID, EventMemberCount, CountPayload{
		SessionID:   sessionID,
		ActiveCount: activeCount,
		TotalCount:  len(roster),
	})
}
