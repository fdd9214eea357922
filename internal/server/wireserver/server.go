package wireserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
)

// Config holds the wire server configuration.
type Config struct {
	// Address is the TCP listen address.
	Address string
	// ReadTimeout is the timeout for reading one envelope after its first
	// byte arrived (default: 30s). Helps prevent slowloris attacks.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing one envelope (default: 30s).
	WriteTimeout time.Duration
	// IdleTimeout is how long a connection may sit between envelopes
	// (default: 5m). Liveness pongs keep active peers well under it.
	IdleTimeout time.Duration
	// RateLimit is the maximum number of request envelopes per second per
	// IP (default: 200). Set to 0 to disable rate limiting.
	RateLimit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:9401",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		RateLimit:    200,
	}
}

// ipLimiters hands out one token-bucket limiter per client IP.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiters(perSecond int) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Server is the TCP peer-protocol server.
type Server struct {
	cfg      *Config
	hub      *Hub
	handler  *Handler
	logger   *slog.Logger
	limiters *ipLimiters

	ln      net.Listener
	running atomic.Bool
	connSeq atomic.Uint64
	wg      sync.WaitGroup
}

// New creates a wire server around an existing hub and handler.
func New(cfg *Config, hub *Hub, handler *Handler, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		s.limiters = newIPLimiters(cfg.RateLimit)
	}
	return s
}

// Start begins accepting connections. It returns once the listener is
// bound; serving continues until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("wire server listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
			s.logger.Error("wire server accept loop failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting and waits for connection goroutines to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return firstErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		id := fmt.Sprintf("wc-%06d", s.connSeq.Add(1))
		conn := newConn(id, c, s.cfg.WriteTimeout)
		s.hub.Register(conn)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer func() {
		s.handler.Disconnect(ctx, c)
		_ = c.Close()
	}()

	ip := clientIP(c.RemoteAddr())
	s.logger.Debug("peer connected", "conn_id", c.ID(), "remote", c.RemoteAddr())

	for {
		// First byte: allow the idle timeout, connections sit quiet
		// between clipboard changes.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logReadEnd(c, err)
			return
		}

		// After the first byte: tighten to the per-envelope read timeout.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}

		env, err := ReadEnvelope(c.br)
		if err != nil {
			if errors.Is(err, ErrLimitExceeded) {
				s.logger.Warn("protocol limit exceeded", "conn_id", c.ID(), "remote", c.RemoteAddr())
				_ = c.write(NewError("", domain.ErrInvalidArgument.Code, "protocol limit exceeded"))
				return
			}
			s.logReadEnd(c, err)
			return
		}

		if s.limiters != nil && !s.limiters.allow(ip) {
			_ = c.write(NewError(env.ID, domain.ErrRateLimited.Code, domain.ErrRateLimited.Message))
			continue
		}

		s.handler.Handle(ctx, c, env)
	}
}

func (s *Server) logReadEnd(c *Conn, err error) {
	if errors.Is(err, io.EOF) {
		s.logger.Debug("peer disconnected", "conn_id", c.ID())
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Debug("connection timed out", "conn_id", c.ID(), "remote", c.RemoteAddr())
		return
	}
	s.logger.Debug("connection read error", "conn_id", c.ID(), "error", err)
}

// clientIP strips the port from a remote address.
func clientIP(addr net.Addr) string {
	s := addr.String()
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		return s[:idx]
	}
	return s
}
