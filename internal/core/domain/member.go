package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID prefixes. Member IDs identify a logical client across reconnects;
// transfer IDs identify one chunked file transfer.
const (
	MemberIDPrefix   = "cmmb-"
	TransferIDPrefix = "cmtx-"
)

// Member is one connected participant of a session.
//
// ConnID is the transient transport handle, unique per live connection.
// ClientID is the persistent identity token supplied by the peer and is
// stable across reconnects; a rejoining peer presents the same ClientID
// on a fresh ConnID.
type Member struct {
	ConnID   string
	ClientID string

	// Name is the peer-declared display name.
	Name string

	// Fingerprint is the peer-declared environment label (browser/OS).
	// It feeds into the echo-suppression hash key.
	Fingerprint string

	// Authorized members may mutate the clipboard and vouch for joiners.
	Authorized bool

	// Active is true while the member answers liveness probes.
	Active bool

	JoinedAt   int64 // Unix milliseconds
	LastSeen   int64 // Unix milliseconds, last pong or message
	LastPongAt int64 // Unix milliseconds, last liveness pong
}

// NewMember creates an active member for a fresh connection.
func NewMember(connID, clientID, name, fingerprint string) *Member {
	now := time.Now().UnixMilli()
	return &Member{
		ConnID:      connID,
		ClientID:    clientID,
		Name:        name,
		Fingerprint: fingerprint,
		Active:      true,
		JoinedAt:    now,
		LastSeen:    now,
		LastPongAt:  now,
	}
}

// Touch records activity from the member.
func (m *Member) Touch() {
	m.LastSeen = time.Now().UnixMilli()
}

// Pong records a liveness probe answer at the given instant.
func (m *Member) Pong(now int64) {
	m.LastPongAt = now
	m.LastSeen = now
	m.Active = true
}

// MemberInfo is the externally visible view of a member, used in roster
// broadcasts. Connection handles are not exposed to peers.
type MemberInfo struct {
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Authorized  bool   `json:"authorized"`
	Active      bool   `json:"active"`
	JoinedAt    int64  `json:"joined_at"`
}

// Info returns the external view of the member.
func (m *Member) Info() MemberInfo {
	return MemberInfo{
		ClientID:    m.ClientID,
		Name:        m.Name,
		Fingerprint: m.Fingerprint,
		Authorized:  m.Authorized,
		Active:      m.Active,
		JoinedAt:    m.JoinedAt,
	}
}

// GenerateMemberID generates a new persistent member ID.
// Used when a peer connects without presenting one.
func GenerateMemberID() (string, error) {
	return generateID(MemberIDPrefix)
}

// GenerateTransferID generates a new file transfer ID.
func GenerateTransferID() (string, error) {
	return generateID(TransferIDPrefix)
}

func generateID(prefix string) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return prefix + id.String(), nil
}
