package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// LivenessService keeps the roster honest. It probes every session on a
// fixed interval, marks members that miss the answer grace inactive, and
// periodically force-reconciles the member bookkeeping against the
// transport's ground truth so the two cannot drift apart for long.
type LivenessService struct {
	store   SessionStore
	bcast   Broadcaster
	logger  *slog.Logger
	metrics *metric.Registry

	pingInterval      time.Duration
	pongGrace         time.Duration
	reconcileInterval time.Duration
	clock             func() time.Time
}

// LivenessOption configures a LivenessService.
type LivenessOption func(*LivenessService)

// WithLivenessIntervals overrides the probe and reconcile timing.
func WithLivenessIntervals(ping, grace, reconcile time.Duration) LivenessOption {
	return func(s *LivenessService) {
		s.pingInterval = ping
		s.pongGrace = grace
		s.reconcileInterval = reconcile
	}
}

// WithLivenessClock overrides the time source, for tests.
func WithLivenessClock(clock func() time.Time) LivenessOption {
	return func(s *LivenessService) {
		s.clock = clock
	}
}

// NewLivenessService creates a LivenessService.
func NewLivenessService(store SessionStore, bcast Broadcaster, logger *slog.Logger, metrics *metric.Registry, opts ...LivenessOption) *LivenessService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LivenessService{
		store:             store,
		bcast:             bcast,
		logger:            logger,
		metrics:           metrics,
		pingInterval:      domain.PingInterval,
		pongGrace:         domain.PongGrace,
		reconcileInterval: domain.ReconcileInterval,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe sends a liveness probe to every populated session and returns the
// probe instant. Members answer with a pong; Expire judges the silence
// after the grace period.
func (s *LivenessService) Probe(ctx context.Context) time.Time {
	now := s.clock()
	sentAt := now.UnixMilli()
	for _, id := range s.store.IDs() {
		populated := false
		_ = s.store.View(ctx, id, func(sess *domain.Session) error {
			populated = len(sess.Members) > 0
			return nil
		})
		if !populated {
			continue
		}
		s.bcast.SendRoom(id, EventLivenessProbe, ProbePayload{
			SessionID: id,
			SentAt:    sentAt,
		})
		if s.metrics != nil {
			s.metrics.ProbesSent.Inc()
		}
	}
	return now
}

// Expire marks every member that has not ponged since the probe instant
// inactive. An inactive member stays on the roster and keeps its
// authorization; it merely stops counting as active and stops receiving
// clipboard fan-out until it answers a later probe.
func (s *LivenessService) Expire(ctx context.Context, probeAt time.Time) {
	cutoff := probeAt.UnixMilli()
	for _, id := range s.store.IDs() {
		var (
			changed int
			roster  []domain.MemberInfo
			active  int
		)
		err := s.store.Mutate(ctx, id, func(sess *domain.Session) error {
			for _, m := range sess.Members {
				if m.Active && m.LastPongAt < cutoff {
					m.Active = false
					changed++
				}
			}
			if changed > 0 {
				roster = sess.Roster()
				active = sess.ActiveCount()
			}
			return nil
		})
		if err != nil || changed == 0 {
			continue
		}

		broadcastRoster(s.bcast, id, roster, active)
		if s.metrics != nil {
			s.metrics.MembersInactive.Add(float64(changed))
		}
		s.logger.Debug("members marked inactive",
			"session_id", id,
			"count", changed)
	}
}

// HandlePong records a member's answer to a liveness probe. A pong from a
// connection the session does not know is answered with session-invalid:
// the client believes it is joined, the server disagrees, and the client
// must re-run the join flow.
func (s *LivenessService) HandlePong(ctx context.Context, sessionID, connID string) error {
	var (
		revived bool
		roster  []domain.MemberInfo
		active  int
	)
	err := s.store.Mutate(ctx, sessionID, func(sess *domain.Session) error {
		m, ok := sess.Members[connID]
		if !ok {
			return domain.ErrMemberNotFound
		}
		wasActive := m.Active
		m.Pong(s.clock().UnixMilli())
		if !wasActive {
			revived = true
			roster = sess.Roster()
			active = sess.ActiveCount()
		}
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "CM-SESS-4040") || domain.IsDomainError(err, "CM-MEMB-4040") {
			s.bcast.Send(connID, EventSessionInvalid, SessionInvalidPayload{
				SessionID: sessionID,
				Reason:    "membership not recognized",
			})
		}
		return err
	}

	if revived {
		broadcastRoster(s.bcast, sessionID, roster, active)
	}
	return nil
}

// Reconcile replaces the member bookkeeping of every session with the
// transport's ground truth. Members whose connections are gone are removed
// outright; members still connected are marked active again, and hold that
// state only until they miss another probe. The roster is always
// rebroadcast, even when nothing changed, so clients with a diverged view
// self-correct. Expired echo-suppression entries are pruned on the same
// pass.
func (s *LivenessService) Reconcile(ctx context.Context) {
	now := s.clock()
	for _, id := range s.store.IDs() {
		live := make(map[string]bool)
		for _, conn := range s.bcast.RoomConns(id) {
			live[conn] = true
		}

		var (
			removed int
			revived int
			roster  []domain.MemberInfo
			active  int
		)
		err := s.store.Mutate(ctx, id, func(sess *domain.Session) error {
			for connID, m := range sess.Members {
				switch {
				case !live[connID]:
					delete(sess.Members, connID)
					removed++
				case !m.Active:
					m.Active = true
					revived++
				}
			}
			sess.History.Prune(now)
			roster = sess.Roster()
			active = sess.ActiveCount()
			return nil
		})
		if err != nil {
			continue
		}

		broadcastRoster(s.bcast, id, roster, active)
		if removed > 0 || revived > 0 {
			s.logger.Info("reconciliation corrected member bookkeeping",
				"session_id", id,
				"removed", removed,
				"revived", revived)
		}
	}
	if s.metrics != nil {
		s.metrics.Reconciliations.Inc()
	}
}

// Run drives the probe and reconciliation loops until the context is
// cancelled. Each probe schedules its own grace check so a slow Expire
// never delays the next probe.
func (s *LivenessService) Run(ctx context.Context) {
	ping := time.NewTicker(s.pingInterval)
	reconcile := time.NewTicker(s.reconcileInterval)
	defer ping.Stop()
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			probeAt := s.Probe(ctx)
			time.AfterFunc(s.pongGrace, func() {
				if ctx.Err() == nil {
					s.Expire(ctx, probeAt)
				}
			})
		case <-reconcile.C:
			s.Reconcile(ctx)
		}
	}
}
