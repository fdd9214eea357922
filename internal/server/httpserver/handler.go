package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clipmesh/clipmesh-go/internal/core/service"
)

// Handler serves the ops endpoints.
type Handler struct {
	registry *service.RegistryService
	verify   *service.VerifyService
	logger   *slog.Logger
	version  string
}

// NewHandler creates a Handler.
func NewHandler(registry *service.RegistryService, verify *service.VerifyService, logger *slog.Logger, version string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		verify:   verify,
		logger:   logger,
		version:  version,
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// session reports existence, population and ban state for one session ID.
// The response deliberately mirrors the wire protocol's session:check, so
// operators see exactly what a peer would.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp, err := h.registry.CheckSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !resp.Exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.registry.CollectStats(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":              stats.Sessions,
		"members":               stats.Members,
		"active_members":        stats.ActiveMembers,
		"pending_verifications": h.verify.PendingCount(),
		"version":               h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
