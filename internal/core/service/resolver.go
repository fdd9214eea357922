package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// ResolverService decides, for each incoming clipboard update, whether to
// apply it to the session state and fan it out, or drop it. The rules run
// in a fixed order under the session lock: authorization, staleness, echo
// suppression, burst throttling. Only an update that clears all four is
// applied.
type ResolverService struct {
	store   SessionStore
	bcast   Broadcaster
	logger  *slog.Logger
	metrics *metric.Registry
	clock   func() time.Time
}

// ResolverOption configures a ResolverService.
type ResolverOption func(*ResolverService)

// WithResolverClock overrides the time source, for tests.
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(s *ResolverService) {
		s.clock = clock
	}
}

// NewResolverService creates a ResolverService.
func NewResolverService(store SessionStore, bcast Broadcaster, logger *slog.Logger, metrics *metric.Registry, opts ...ResolverOption) *ResolverService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ResolverService{
		store:   store,
		bcast:   bcast,
		logger:  logger,
		metrics: metrics,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome classifies the resolution of one clipboard update.
type Outcome string

const (
	Applied       Outcome = "applied"
	RejectedStale Outcome = "rejected_stale"
	RejectedEcho  Outcome = "rejected_echo"
	RejectedBurst Outcome = "rejected_burst"
)

// ApplyRequest is one incoming clipboard update.
type ApplyRequest struct {
	SessionID string
	ConnID    string

	Type    domain.ContentType
	Content string // opaque, relayed as received
	Subtype string

	// Timestamp is the sender's claimed production instant in Unix
	// milliseconds. Zero means unknown and skips the staleness check.
	Timestamp int64
}

// ApplyResponse reports how the update was resolved. Rejections are not
// errors: the sender gets an outcome, not a failure.
type ApplyResponse struct {
	Outcome Outcome `json:"outcome"`
}

// ClipboardPayload is the body of clipboard-broadcast events.
type ClipboardPayload struct {
	SessionID string                `json:"session_id"`
	State     domain.ClipboardState `json:"state"`
}

// Apply resolves one clipboard update against the session state.
func (s *ResolverService) Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error) {
	// 1. Validate required fields
	if req.SessionID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("session_id is required")
	}
	if req.ConnID == "" {
		return nil, domain.ErrMissingArgument.WithDetails("conn_id is required")
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidArgument.WithDetails("unknown content type")
	}

	now := s.clock().UnixMilli()

	// 2. Resolve under the session lock
	var (
		outcome    Outcome
		recipients []string
		state      domain.ClipboardState
	)
	err := s.store.Mutate(ctx, req.SessionID, func(sess *domain.Session) error {
		sender, ok := sess.Members[req.ConnID]
		if !ok || !sender.Authorized {
			return domain.ErrNotAuthorized.WithDetails("sender is not an authorized session member")
		}

		sender.Touch()

		// Every attempt counts toward the burst rate, accepted or not.
		sess.Burst.Record(now)

		// Staleness: an update claiming to predate the last accepted one
		// lost the race and must not overwrite newer content. Equal
		// timestamps pass; clocks are too coarse to order them, so the
		// last one processed wins.
		if req.Timestamp != 0 && sess.Clipboard != nil && req.Timestamp < sess.Clipboard.Timestamp {
			outcome = RejectedStale
			return nil
		}

		// Echo suppression: a client's clipboard watcher fires on the very
		// content the server just delivered to it, and reports it back.
		// The lookup key folds in the reporter's environment fingerprint,
		// and only a hit recorded by a different origin counts as an echo;
		// a member re-copying its own content is a genuine update.
		digest := domain.ContentDigest(req.Type, req.Content)
		key := domain.EchoKey(digest, sender.Fingerprint)
		if entry, found := sess.History.Lookup(key); found && entry.OriginID != sender.ClientID {
			if now-entry.Timestamp <= entry.Type.EchoWindow().Milliseconds() {
				outcome = RejectedEcho
				return nil
			}
		}

		// Burst throttling: once the window is crowded, only updates
		// spaced a minimum gap from the last accepted one get through.
		inWindow := sess.Burst.CountSince(now - domain.BurstWindow.Milliseconds())
		if inWindow >= domain.BurstThreshold && now-sess.LastAcceptedAt < domain.BurstMinGap.Milliseconds() {
			outcome = RejectedBurst
			return nil
		}

		// Accept: record the hash entry, store the new state with the
		// claimed timestamp, and collect the fan-out targets.
		ts := req.Timestamp
		if ts == 0 {
			ts = now
		}
		state = domain.ClipboardState{
			Type:      req.Type,
			Content:   req.Content,
			Subtype:   req.Subtype,
			Timestamp: ts,
			OriginID:  sender.ClientID,
		}
		sess.Clipboard = &state
		sess.LastAcceptedAt = now
		sess.History.Record(key, domain.HashEntry{
			Timestamp: now,
			OriginID:  sender.ClientID,
			Type:      req.Type,
		})

		for _, m := range sess.Members {
			if m.ConnID != req.ConnID && m.Active && m.Authorized {
				recipients = append(recipients, m.ConnID)
			}
		}

		outcome = Applied
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-AUTH-4030") {
			s.bcast.Send(req.ConnID, EventSessionInvalid, SessionInvalidPayload{
				SessionID: req.SessionID,
				Reason:    "not an authorized member of this session",
			})
		}
		return nil, err
	}

	// 3. Fan out and account
	if outcome == Applied {
		s.bcast.SendConns(recipients, EventClipboard, ClipboardPayload{
			SessionID: req.SessionID,
			State:     state,
		})
		if s.metrics != nil {
			s.metrics.EventsFanout.Observe(float64(len(recipients)))
		}
	}
	if s.metrics != nil {
		s.metrics.UpdatesTotal.WithLabelValues(string(outcome)).Inc()
	}
	if outcome != Applied {
		s.logger.Debug("clipboard update rejected",
			"session_id", req.SessionID,
			"outcome", string(outcome))
	}

	return &ApplyResponse{Outcome: outcome}, nil
}
