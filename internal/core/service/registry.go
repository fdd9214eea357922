package service

import (
	"context"
	"log/slog"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// RegistryService owns the authoritative session records: existence and
// ban checks, session creation, the trusted rejoin path, clean leaves and
// disconnect cleanup.
type RegistryService struct {
	store   SessionStore
	bcast   Broadcaster
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(store SessionStore, bcast Broadcaster, logger *slog.Logger, metrics *metric.Registry) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{
		store:   store,
		bcast:   bcast,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckSessionResponse is the result of a session existence check.
type CheckSessionResponse struct {
	Exists           bool `json:"exists"`
	HasActiveClients bool `json:"has_active_clients"`
	Banned           bool `json:"banned"`
}

// CheckSession reports whether a session exists, whether it has active
// members, and whether it is banned. Unknown IDs are not an error.
func (s *RegistryService) CheckSession(ctx context.Context, sessionID string) (*CheckSessionResponse, error) {
	if sessionID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id is required")
	}

	resp := &CheckSessionResponse{}
	err := s.store.View(ctx, sessionID, func(sess *domain.Session) error {
		resp.Exists = true
		resp.HasActiveClients = sess.HasActiveMembers()
		resp.Banned = sess.Banned
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-SESS-4040") {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}

// CreateSessionRequest contains parameters for session creation. The
// creator is admitted as the first member and auto-authorized: whoever is
// present when a session first becomes populated sets its secret.
type CreateSessionRequest struct {
	SessionID  string
	Passphrase string

	// Creator metadata.
	ConnID      string
	ClientID    string // generated if empty
	Name        string
	Fingerprint string
}

// CreateSessionResponse contains the result of session creation.
type CreateSessionResponse struct {
	IsNewSession bool              `json:"is_new_session"`
	Member       domain.MemberInfo `json:"member"`
	MemberCount  int               `json:"member_count"`
}

// CreateSession creates a session and admits the creator.
func (s *RegistryService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	// 1. Validate required fields
	if req.SessionID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id is required")
	}
	if req.ConnID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("conn_id is required")
	}

	// 2. Resolve the creator's persistent identity
	clientID := req.ClientID
	if clientID == "" {
		var err error
		clientID, err = domain.GenerateMemberID()
		if err != nil {
			return nil, err
		}
	}

	// 3. Create the session record
	sess := domain.NewSession(req.SessionID, req.Passphrase)
	member := domain.NewMember(req.ConnID, clientID, req.Name, req.Fingerprint)
	member.Authorized = true // first member of an empty session
	sess.Members[req.ConnID] = member

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SessionsTotal.Inc()
		s.metrics.MembersJoined.Inc()
	}
	s.logger.Info("session created",
		"session_id", req.SessionID,
		"client_id", clientID)

	return &CreateSessionResponse{
		IsNewSession: true,
		Member:       member.Info(),
		MemberCount:  1,
	}, nil
}

// JoinSessionRequest contains parameters for the trusted rejoin path.
// This path checks only that the session exists and is not banned; the
// passphrase itself is never sent to the server in the verified flow.
type JoinSessionRequest struct {
	SessionID   string
	ConnID      string
	ClientID    string
	Name        string
	Fingerprint string
}

// JoinSessionResponse contains the session snapshot returned to a joiner.
type JoinSessionResponse struct {
	Clipboard   *domain.ClipboardState `json:"clipboard"`
	Member      domain.MemberInfo      `json:"member"`
	Members     []domain.MemberInfo    `json:"members"`
	MemberCount int                    `json:"member_count"`
}

// JoinSession admits a returning member into an existing session and
// broadcasts the updated roster to its peers.
func (s *RegistryService) JoinSession(ctx context.Context, req *JoinSessionRequest) (*JoinSessionResponse, error) {
	// 1. Validate required fields
	if req.SessionID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id is required")
	}
	if req.ConnID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("conn_id is required")
	}

	clientID := req.ClientID
	if clientID == "" {
		var err error
		clientID, err = domain.GenerateMemberID()
		if err != nil {
			return nil, err
		}
	}

	// 2. Admit under the session lock
	var (
		resp   JoinSessionResponse
		roster []domain.MemberInfo
		active int
	)
	err := s.store.Mutate(ctx, req.SessionID, func(sess *domain.Session) error {
		if sess.Banned {
			return domain.ErrSessionBanned
		}

		// A reconnect with the same logical identity replaces the old
		// transport handle.
		if old, ok := sess.MemberByClientID(clientID); ok && old.ConnID != req.ConnID {
			delete(sess.Members, old.ConnID)
		}

		member := domain.NewMember(req.ConnID, clientID, req.Name, req.Fingerprint)
		member.Authorized = true // rejoin of an already-trusted session
		sess.Members[req.ConnID] = member

		resp.Clipboard = sess.Clipboard.Clone()
		resp.Member = member.Info()
		resp.Members = sess.Roster()
		resp.MemberCount = len(sess.Members)
		roster = resp.Members
		active = sess.ActiveCount()
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-SESS-4040") {
			return nil, domain.ErrJoinDenied.WithDetails("session does not exist")
		}
		return nil, err
	}

	// 3. Tell the room
	s.bcast.SendRoom(req.SessionID, EventMemberJoined, MemberEventPayload{
		SessionID: req.SessionID,
		Member:    resp.Member,
	})
	broadcastRoster(s.bcast, req.SessionID, roster, active)

	if s.metrics != nil {
		s.metrics.MembersJoined.Inc()
	}
	s.logger.Info("member joined",
		"session_id", req.SessionID,
		"client_id", clientID)

	return &resp, nil
}

// Leave removes a member from a session (clean leave or transport
// disconnect) and rebroadcasts the roster. Removing an unknown member is
// not an error: disconnect cleanup races with explicit leaves.
func (s *RegistryService) Leave(ctx context.Context, sessionID, connID string) {
	var (
		left   *domain.MemberInfo
		roster []domain.MemberInfo
		active int
	)
	err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		member, ok := sess.Members[connID]
		if !ok {
			return nil
		}
		info := member.Info()
		left = &info
		delete(sess.Members, connID)
		roster = sess.Roster()
		active = sess.ActiveCount()
		return nil
	})
	if err != nil || left == nil {
		return
	}

	s.bcast.SendRoom(sessionID, EventMemberLeft, MemberEventPayload{
		SessionID: sessionID,
		Member:    *left,
	})
	broadcastRoster(s.bcast, sessionID, roster, active)

	if s.metrics != nil {
		s.metrics.MembersLeft.Inc()
	}
	s.logger.Debug("member left",
		"session_id", sessionID,
		"client_id", left.ClientID)
}

// MarkBanned flips a session to banned. Terminal for the process lifetime.
func (s *RegistryService) MarkBanned(ctx context.Context, sessionID string) error {
	err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		sess.Banned = true
		return nil
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SessionsBanned.Inc()
	}
	return nil
}

// GetClipboard returns the current clipboard snapshot of a session.
func (s *RegistryService) GetClipboard(ctx context.Context, sessionID, connID string) (*domain.ClipboardState, error) {
	var state *domain.ClipboardState
	err := s.store.View(ctx, sessionID, func(sess *domain.Session) error {
		if _, ok := sess.Members[connID]; !ok {
			return domain.ErrMemberNotFound
		}
		state = sess.Clipboard.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Stats summarizes the registry for the ops surface.
type Stats struct {
	Sessions      int `json:"sessions"`
	Members       int `json:"members"`
	ActiveMembers int `json:"active_members"`
}

// CollectStats walks all sessions and tallies population counts.
func (s *RegistryService) CollectStats(ctx context.Context) Stats {
	var stats Stats
	for _, id := range s.store.IDs() {
		_ = s.store.View(ctx, id, func(sess *domain.Session) error {
			stats.Sessions++
			stats.Members += len(sess.Members)
			stats.ActiveMembers += sess.ActiveCount()
			return nil
		})
	}
	return stats
}
