// Package domain defines the core domain models for ClipMesh.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. Concurrency control lives
// in the storage layer, which serializes all mutation per session.
package domain

import (
	"strings"
	"time"
)

// Session constraints and protocol timing constants.
const (
	MaxSessionIDLength   = 64
	MaxPassphraseLength  = 256
	MaxNameLength        = 64
	MaxFingerprintLength = 128
	MaxClientIDLength    = 128

	// VerifyTimeout is how long a join verification may stay pending before
	// it is resolved as timed out.
	VerifyTimeout = 30 * time.Second

	// PingInterval is the period of the liveness probe sweep.
	PingInterval = 5 * time.Second

	// PongGrace is how long after a probe a member may stay silent before
	// being marked inactive.
	PongGrace = 2500 * time.Millisecond

	// ReconcileInterval is the period of the roster force reconciliation.
	ReconcileInterval = 60 * time.Second

	// ChunkThreshold is the payload size above which peers switch to
	// chunked file transfer.
	ChunkThreshold = 100 * 1024

	// ChunkSize is the fixed chunk size peers are expected to use.
	ChunkSize = 64 * 1024
)

// ContentType identifies the kind of clipboard payload.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentFile  ContentType = "file"
)

// Valid reports whether the content type is one of the known kinds.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentFile:
		return true
	}
	return false
}

// EchoWindow returns the duplicate-suppression window for the type:
// text updates loop faster than image or file references, so they get
// the tighter window.
func (t ContentType) EchoWindow() time.Duration {
	if t == ContentText {
		return 2 * time.Second
	}
	return 5 * time.Second
}

// ClipboardState is the single live clipboard value of a session.
// Content is an opaque string; the server hashes it for echo suppression
// but never decrypts or parses it.
type ClipboardState struct {
	Type      ContentType `json:"type"`
	Content   string      `json:"content"`
	Subtype   string      `json:"subtype,omitempty"` // e.g. image MIME
	Timestamp int64       `json:"timestamp"`         // Unix milliseconds, sender-claimed
	OriginID  string      `json:"origin_id"`         // persistent client ID of the producer
}

// Clone returns a copy of the state.
func (c *ClipboardState) Clone() *ClipboardState {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Session is a named shared-clipboard scope.
//
// The passphrase is held only for literal equality checks on the legacy
// rejoin path; in the verified join flow it never reaches the server.
// Banned is terminal for the process lifetime: a session whose verification
// was explicitly denied by a vouching member stays locked.
type Session struct {
	ID         string
	Passphrase string
	Banned     bool
	CreatedAt  int64 // Unix milliseconds

	Clipboard *ClipboardState

	// Members is keyed by transport connection ID.
	Members map[string]*Member

	// History is the echo-suppression record, keyed by content hash
	// combined with the reporter's environment fingerprint.
	History *HashHistory

	// Burst is the rolling update-rate record for throttling.
	Burst BurstLog

	// LastAcceptedAt is when the last clipboard update was applied.
	LastAcceptedAt int64
}

// NewSession creates an empty session.
func NewSession(id, passphrase string) *Session {
	return &Session{
		ID:         id,
		Passphrase: passphrase,
		CreatedAt:  time.Now().UnixMilli(),
		Members:    make(map[string]*Member),
		History:    NewHashHistory(DefaultHistoryLimit),
	}
}

// Validate validates the session fields against constraints.
func (s *Session) Validate() error {
	var violations []string

	if s.ID == "" {
		violations = append(violations, "session id is required")
	}
	if len(s.ID) > MaxSessionIDLength {
		violations = append(violations, "session id exceeds 64 characters")
	}
	if len(s.Passphrase) > MaxPassphraseLength {
		violations = append(violations, "passphrase exceeds 256 characters")
	}

	if len(violations) > 0 {
		return ErrSessionValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Member returns the member bound to the given connection ID.
func (s *Session) Member(connID string) (*Member, bool) {
	m, ok := s.Members[connID]
	return m, ok
}

// MemberByClientID returns the member with the given persistent client ID.
func (s *Session) MemberByClientID(clientID string) (*Member, bool) {
	for _, m := range s.Members {
		if m.ClientID == clientID {
			return m, true
		}
	}
	return nil, false
}

// AuthorizedConns returns the connection IDs of all connected authorized
// members. These are the members asked to vouch for joiners.
func (s *Session) AuthorizedConns() []string {
	var conns []string
	for id, m := range s.Members {
		if m.Authorized {
			conns = append(conns, id)
		}
	}
	return conns
}

// ActiveCount returns the number of members that answered the last probe.
func (s *Session) ActiveCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Active {
			n++
		}
	}
	return n
}

// HasActiveMembers reports whether any connected member is active.
func (s *Session) HasActiveMembers() bool {
	return s.ActiveCount() > 0
}

// Roster returns a snapshot of all members, for roster broadcasts.
func (s *Session) Roster() []MemberInfo {
	roster := make([]MemberInfo, 0, len(s.Members))
	for _, m := range s.Members {
		roster = append(roster, m.Info())
	}
	return roster
}
