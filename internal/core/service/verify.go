package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// VerifyService runs the trust-bootstrap handshake. The server never holds
// the session passphrase: a joiner produces an encrypted challenge with its
// claimed passphrase, and the server either auto-authorizes (empty session,
// trust on first use) or relays the challenge to the connected authorized
// members and waits for the first conclusive verdict.
//
// Pending requests live in an explicit table keyed by (sessionID, connID)
// and carry an expiry instant swept by a scheduler tick, so a disconnect
// mid-verification clears state instead of leaving a dangling timer.
type VerifyService struct {
	store   SessionStore
	bcast   Broadcaster
	logger  *slog.Logger
	metrics *metric.Registry

	timeout time.Duration
	clock   func() time.Time

	mu      sync.Mutex
	pending map[pendingKey]*domain.VerificationRequest
}

type pendingKey struct {
	sessionID string
	connID    string
}

// VerifyOption configures a VerifyService.
type VerifyOption func(*VerifyService)

// WithVerifyTimeout overrides the verification timeout.
func WithVerifyTimeout(d time.Duration) VerifyOption {
	return func(s *VerifyService) {
		s.timeout = d
	}
}

// WithVerifyClock overrides the time source, for tests.
func WithVerifyClock(clock func() time.Time) VerifyOption {
	return func(s *VerifyService) {
		s.clock = clock
	}
}

// NewVerifyService creates a VerifyService.
func NewVerifyService(store SessionStore, bcast Broadcaster, logger *slog.Logger, metrics *metric.Registry, opts ...VerifyOption) *VerifyService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &VerifyService{
		store:   store,
		bcast:   bcast,
		logger:  logger,
		metrics: metrics,
		timeout: domain.VerifyTimeout,
		clock:   time.Now,
		pending: make(map[pendingKey]*domain.VerificationRequest),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyJoinRequestPayload is relayed to vouching members. The challenge
// blob is forwarded undecrypted; vouchers attempt decryption locally.
type VerifyJoinRequestPayload struct {
	SessionID string            `json:"session_id"`
	RequestID string            `json:"request_id"` // opaque handle for the verdict
	Candidate domain.MemberInfo `json:"candidate"`
	Challenge string            `json:"challenge"`
}

// VerificationResultPayload is sent to the joiner once resolved.
type VerificationResultPayload struct {
	SessionID string `json:"session_id"`
	Approved  bool   `json:"approved"`
}

// VerificationTimeoutPayload is sent to the joiner when no verdict arrived.
type VerificationTimeoutPayload struct {
	SessionID string `json:"session_id"`
}

// SessionBannedPayload is sent to all session members on a denied join.
type SessionBannedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// RequestJoinRequest contains parameters for a verified join attempt.
type RequestJoinRequest struct {
	SessionID   string
	ConnID      string
	ClientID    string // generated if empty
	Name        string
	Fingerprint string
	Challenge   string
}

// RequestJoinResponse contains the immediate result of a join attempt.
// When AutoAuthorized is false the final verdict arrives asynchronously
// as a verification-result or verification-timeout event.
type RequestJoinResponse struct {
	Accepted       bool `json:"accepted"`
	AutoAuthorized bool `json:"auto_authorized"`
}

// RequestJoin starts a join verification for a passphrase-protected session.
func (s *VerifyService) RequestJoin(ctx context.Context, req *RequestJoinRequest) (*RequestJoinResponse, error) {
	// 1. Validate required fields
	if req.SessionID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id is required")
	}
	if req.ConnID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("conn_id is required")
	}
	if req.Challenge == "" {
		return nil, domain.ErrMissingArgument.WithDetails("challenge is required")
	}

	clientID := req.ClientID
	if clientID == "" {
		var err error
		clientID, err = domain.GenerateMemberID()
		if err != nil {
			return nil, err
		}
	}
	candidate := domain.MemberInfo{
		ClientID:    clientID,
		Name:        req.Name,
		Fingerprint: req.Fingerprint,
		Active:      true,
	}

	// 2. Decide auto-authorization under the session lock
	var (
		vouchers []string
		roster   []domain.MemberInfo
		active   int
		joined   domain.MemberInfo
	)
	err := s.store.Mutate(ctx, req.SessionID, func(sess *domain.Session) error {
		if sess.Banned {
			return domain.ErrSessionBanned
		}

		vouchers = sess.AuthorizedConns()
		if len(vouchers) > 0 {
			return nil
		}

		// Trust on first use: no authorized member is connected, so
		// whoever is present now sets the session's secret.
		member := domain.NewMember(req.ConnID, clientID, req.Name, req.Fingerprint)
		member.Authorized = true
		sess.Members[req.ConnID] = member
		joined = member.Info()
		roster = sess.Roster()
		active = sess.ActiveCount()
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-SESS-4040") {
			return nil, domain.ErrJoinDenied.WithDetails("session does not exist")
		}
		return nil, err
	}

	// 3a. Auto-authorized: announce and finish
	if len(vouchers) == 0 {
		s.bcast.SendRoom(req.SessionID, EventMemberJoined, MemberEventPayload{
			SessionID: req.SessionID,
			Member:    joined,
		})
		broadcastRoster(s.bcast, req.SessionID, roster, active)
		if s.metrics != nil {
			s.metrics.VerifyTotal.WithLabelValues("auto").Inc()
			s.metrics.MembersJoined.Inc()
		}
		s.logger.Info("join auto-authorized",
			"session_id", req.SessionID,
			"client_id", clientID)
		return &RequestJoinResponse{Accepted: true, AutoAuthorized: true}, nil
	}

	// 3b. Register the pending request and ask the authorized members
	now := s.clock()
	vr := &domain.VerificationRequest{
		SessionID: req.SessionID,
		ConnID:    req.ConnID,
		Challenge: req.Challenge,
		Candidate: candidate,
		State:     domain.VerifyAwaitingVouch,
		CreatedAt: now,
		ExpiresAt: now.Add(s.timeout),
	}

	s.mu.Lock()
	s.pending[pendingKey{req.SessionID, req.ConnID}] = vr
	s.mu.Unlock()

	s.bcast.SendConns(vouchers, EventVerifyJoinRequest, VerifyJoinRequestPayload{
		SessionID: req.SessionID,
		RequestID: req.ConnID,
		Candidate: candidate,
		Challenge: req.Challenge,
	})

	s.logger.Info("join verification pending",
		"session_id", req.SessionID,
		"client_id", clientID,
		"vouchers", len(vouchers))
	return &RequestJoinResponse{Accepted: true, AutoAuthorized: false}, nil
}

// SubmitVerdictRequest contains one vouching member's verdict.
type SubmitVerdictRequest struct {
	SessionID     string
	VoucherConnID string
	TargetConnID  string // RequestID from the verify-join-request event
	Approved      bool
}

// SubmitVerdict resolves a pending verification with the first conclusive
// verdict. An explicit deny bans the whole session: a wrong-passphrase
// guess against a session with real connected members is treated as an
// active guessing attempt, not a typo.
func (s *VerifyService) SubmitVerdict(ctx context.Context, req *SubmitVerdictRequest) error {
	// 1. Validate required fields
	if req.SessionID == "" || req.TargetConnID == "" {
		return domain.ErrMissingArgument.WithDetails("session_id and target are required")
	}

	// 2. Take the pending request out of the table (resolve exactly once)
	s.mu.Lock()
	key := pendingKey{req.SessionID, req.TargetConnID}
	vr, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrVerificationNotFound
	}

	// 3. Apply the verdict under the session lock
	var (
		roster []domain.MemberInfo
		active int
		joined domain.MemberInfo
	)
	err := s.store.Mutate(ctx, req.SessionID, func(sess *domain.Session) error {
		voucher, okV := sess.Members[req.VoucherConnID]
		if !okV || !voucher.Authorized {
			return domain.ErrNotAuthorized.WithDetails("only authorized members may vouch")
		}

		// A ban is terminal. A verdict that lands after another pending
		// request was denied cannot admit anyone.
		if sess.Banned {
			vr.State = domain.VerifyDenied
			return domain.ErrSessionBanned
		}

		if !req.Approved {
			vr.State = domain.VerifyDenied
			sess.Banned = true
			return nil
		}

		vr.State = domain.VerifyApproved
		member := domain.NewMember(vr.ConnID, vr.Candidate.ClientID, vr.Candidate.Name, vr.Candidate.Fingerprint)
		member.Authorized = true
		sess.Members[vr.ConnID] = member
		joined = member.Info()
		roster = sess.Roster()
		active = sess.ActiveCount()
		return nil
	})
	if err != nil {
		// Authorization failures put the request back so another voucher
		// can still resolve it.
		if domain.IsDomainError(err, "CM-AUTH-4030") {
			s.mu.Lock()
			s.pending[key] = vr
			s.mu.Unlock()
		}
		// A candidate still waiting on a banned session gets told; its
		// request stays resolved.
		if domain.IsDomainError(err, "CM-SESS-4030") {
			s.bcast.Send(vr.ConnID, EventSessionBanned, SessionBannedPayload{
				SessionID: req.SessionID,
				Reason:    "session is banned",
			})
		}
		return err
	}

	// 4. Announce the outcome
	if vr.State == domain.VerifyDenied {
		s.bcast.Send(vr.ConnID, EventVerificationResult, VerificationResultPayload{
			SessionID: req.SessionID,
			Approved:  false,
		})
		s.bcast.SendRoom(req.SessionID, EventSessionBanned, SessionBannedPayload{
			SessionID: req.SessionID,
			Reason:    "join verification denied",
		})
		if s.metrics != nil {
			s.metrics.VerifyTotal.WithLabelValues("denied").Inc()
			s.metrics.SessionsBanned.Inc()
		}
		s.logger.Warn("join denied, session banned",
			"session_id", req.SessionID)
		return nil
	}

	s.bcast.Send(vr.ConnID, EventVerificationResult, VerificationResultPayload{
		SessionID: req.SessionID,
		Approved:  true,
	})
	s.bcast.SendRoom(req.SessionID, EventMemberJoined, MemberEventPayload{
		SessionID: req.SessionID,
		Member:    joined,
	})
	broadcastRoster(s.bcast, req.SessionID, roster, active)
	if s.metrics != nil {
		s.metrics.VerifyTotal.WithLabelValues("approved").Inc()
		s.metrics.MembersJoined.Inc()
	}
	s.logger.Info("join approved",
		"session_id", req.SessionID,
		"client_id", joined.ClientID)
	return nil
}

// CancelConn drops any pending verification tied to a disconnected
// transport handle. Called from disconnect cleanup.
func (s *VerifyService) CancelConn(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.pending {
		if key.connID == connID {
			delete(s.pending, key)
		}
	}
}

// PendingCount returns the number of unresolved verifications.
func (s *VerifyService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sweep resolves all pending requests past their deadline as timed out.
// A timeout is a denial for the joiner but does not ban the session.
func (s *VerifyService) Sweep(now time.Time) int {
	s.mu.Lock()
	var expired []*domain.VerificationRequest
	for key, vr := range s.pending {
		if vr.Expired(now) {
			vr.State = domain.VerifyTimedOut
			expired = append(expired, vr)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	for _, vr := range expired {
		s.bcast.Send(vr.ConnID, EventVerificationTimeout, VerificationTimeoutPayload{
			SessionID: vr.SessionID,
		})
		if s.metrics != nil {
			s.metrics.VerifyTotal.WithLabelValues("timeout").Inc()
		}
		s.logger.Info("join verification timed out",
			"session_id", vr.SessionID)
	}
	return len(expired)
}

// Run sweeps expired verifications until the context is cancelled.
func (s *VerifyService) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.clock())
		}
	}
}
