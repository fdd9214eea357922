package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/clipmesh/clipmesh-go/internal/core/service"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Registry answers session inspection requests.
	Registry *service.RegistryService

	// Verify contributes the pending-verification count to stats.
	Verify *service.VerifyService

	// Metrics is served at /metrics.
	Metrics *metric.Registry

	// Logger for request logging.
	Logger *slog.Logger

	// Version is reported by /health and /v1/stats.
	Version string
}

// NewRouter creates the ops router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(cfg.Registry, cfg.Verify, logger, cfg.Version)

	wrap := func(fn http.HandlerFunc) http.Handler {
		return Chain(fn, Recover(logger), RequestLog(logger))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", wrap(h.health))
	mux.Handle("GET /v1/sessions/{id}", wrap(h.session))
	mux.Handle("GET /v1/stats", wrap(h.stats))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), Recover(logger)))
	}
	return mux
}
