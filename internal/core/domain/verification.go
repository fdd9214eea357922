package domain

import "time"

// VerifyState is the state of one join verification attempt.
//
// Transitions: Pending -> AutoAuthorized when the session has no connected
// authorized member; Pending -> AwaitingVouch otherwise; AwaitingVouch ->
// Approved | Denied | TimedOut. Denied additionally bans the session.
type VerifyState int

const (
	VerifyPending VerifyState = iota
	VerifyAwaitingVouch
	VerifyAutoAuthorized
	VerifyApproved
	VerifyDenied
	VerifyTimedOut
)

// String returns the state name for logging.
func (s VerifyState) String() string {
	switch s {
	case VerifyPending:
		return "pending"
	case VerifyAwaitingVouch:
		return "awaiting_vouch"
	case VerifyAutoAuthorized:
		return "auto_authorized"
	case VerifyApproved:
		return "approved"
	case VerifyDenied:
		return "denied"
	case VerifyTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Resolved reports whether the state is terminal.
func (s VerifyState) Resolved() bool {
	switch s {
	case VerifyAutoAuthorized, VerifyApproved, VerifyDenied, VerifyTimedOut:
		return true
	}
	return false
}

// VerificationRequest is one pending join attempt awaiting a verdict from
// the session's authorized members. Requests live in an explicit pending
// table keyed by (SessionID, ConnID) and are swept against ExpiresAt by a
// scheduler tick; there are no captured timers to leak on disconnect.
type VerificationRequest struct {
	SessionID string
	ConnID    string // joiner's transport handle

	// Challenge is the joiner-produced encrypted blob. The server cannot
	// decrypt it; it is relayed verbatim to vouching members.
	Challenge string

	// Candidate holds the joiner's declared metadata, applied to the
	// member record if the request is approved.
	Candidate MemberInfo

	State     VerifyState
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the request has passed its deadline.
func (r *VerificationRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
