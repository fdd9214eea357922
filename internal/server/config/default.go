// Package config defines the server configuration structure.
package config

import (
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
)

// Default configuration values.
const (
	DefaultWireAddr     = "127.0.0.1:9401"
	DefaultHTTPAddr     = "127.0.0.1:9402"
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultRateLimit    = 200

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration. Liveness and
// verification timing defaults come from the domain package so the
// config layer and the services agree when a section is omitted.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Wire: WireConfig{
				Addr:         DefaultWireAddr,
				ReadTimeout:  DefaultReadTimeout,
				WriteTimeout: DefaultWriteTimeout,
				IdleTimeout:  DefaultIdleTimeout,
				RateLimit:    DefaultRateLimit,
			},
			HTTP: HTTPConfig{
				Enabled: true,
				Addr:    DefaultHTTPAddr,
			},
		},
		Liveness: LivenessSection{
			PingInterval:      domain.PingInterval,
			PongGrace:         domain.PongGrace,
			ReconcileInterval: domain.ReconcileInterval,
		},
		Verify: VerifySection{
			Timeout: domain.VerifyTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
