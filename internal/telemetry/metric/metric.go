// Package metric provides Prometheus metrics for ClipMesh.
//
// It exposes counters and gauges for session population, clipboard
// conflict-resolution outcomes, join verification verdicts, liveness
// sweeps and chunk relay volume. The registry is served by the admin
// HTTP server at /metrics.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Session population
	SessionsTotal  prometheus.Counter
	SessionsBanned prometheus.Counter
	MembersJoined  prometheus.Counter
	MembersLeft    prometheus.Counter

	// Clipboard conflict resolution, labeled by outcome
	// (applied, stale, echo, burst, unauthorized).
	UpdatesTotal *prometheus.CounterVec

	// Join verification, labeled by outcome
	// (auto, approved, denied, timeout).
	VerifyTotal *prometheus.CounterVec

	// Liveness
	ProbesSent      prometheus.Counter
	MembersInactive prometheus.Counter
	Reconciliations prometheus.Counter

	// Chunk relay
	ChunksRelayed prometheus.Counter
	BytesRelayed  prometheus.Counter

	// Transport
	EventsFanout prometheus.Histogram
}

// NewRegistry creates and registers all application metrics on a fresh
// Prometheus registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_sessions_created_total",
			Help: "Sessions created since process start.",
		}),
		SessionsBanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_sessions_banned_total",
			Help: "Sessions banned after a denied join verification.",
		}),
		MembersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_members_joined_total",
			Help: "Members admitted to sessions.",
		}),
		MembersLeft: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_members_left_total",
			Help: "Members removed from sessions (leave or disconnect).",
		}),
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmesh_clipboard_updates_total",
			Help: "Clipboard update decisions by outcome.",
		}, []string{"outcome"}),
		VerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmesh_join_verifications_total",
			Help: "Join verification resolutions by outcome.",
		}, []string{"outcome"}),
		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_liveness_probes_total",
			Help: "Liveness probe broadcasts sent.",
		}),
		MembersInactive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_members_marked_inactive_total",
			Help: "Members marked inactive after a missed probe.",
		}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_roster_reconciliations_total",
			Help: "Force reconciliations of roster bookkeeping.",
		}),
		ChunksRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_file_chunks_relayed_total",
			Help: "File chunks forwarded to session peers.",
		}),
		BytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmesh_file_bytes_relayed_total",
			Help: "Opaque file payload bytes forwarded.",
		}),
		EventsFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipmesh_broadcast_fanout",
			Help:    "Recipients per broadcast event.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),
	}

	reg.MustRegister(
		r.SessionsTotal, r.SessionsBanned, r.MembersJoined, r.MembersLeft,
		r.UpdatesTotal, r.VerifyTotal,
		r.ProbesSent, r.MembersInactive, r.Reconciliations,
		r.ChunksRelayed, r.BytesRelayed, r.EventsFanout,
	)

	return r
}

// Handler returns the HTTP handler serving this registry in Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
