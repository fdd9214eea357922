// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for clipmesh-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Liveness LivenessSection `koanf:"liveness"`
	Verify   VerifySection   `koanf:"verify"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	Wire WireConfig `koanf:"wire"`
	HTTP HTTPConfig `koanf:"http"`
}

// WireConfig configures the wire protocol server.
type WireConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`

	// RateLimit is the maximum number of request envelopes per second
	// accepted from a single client IP. Zero disables limiting.
	RateLimit int `koanf:"rate_limit"`
}

// HTTPConfig configures the HTTP operations server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LivenessSection configures the liveness tracker.
type LivenessSection struct {
	// PingInterval is the interval between liveness probes.
	PingInterval time.Duration `koanf:"ping_interval"`

	// PongGrace is how long a member has to answer a probe before it is
	// marked inactive.
	PongGrace time.Duration `koanf:"pong_grace"`

	// ReconcileInterval is the interval between membership reconciliation
	// sweeps against the connection registry.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
}

// VerifySection configures the join verification protocol.
type VerifySection struct {
	// Timeout is how long a join request may stay pending before the
	// candidate is told verification timed out.
	Timeout time.Duration `koanf:"timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
