// Package config defines the server configuration structure.
package config

import "errors"

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyLiveness(&cfg.Liveness); err != nil {
		return err
	}
	if cfg.Verify.Timeout <= 0 {
		return errors.New("verify.timeout must be positive")
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Wire.Addr == "" {
		return errors.New("server.wire.addr is required")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required when http is enabled")
	}
	if cfg.Wire.RateLimit < 0 {
		return errors.New("server.wire.rate_limit must not be negative")
	}
	return nil
}

func verifyLiveness(cfg *LivenessSection) error {
	if cfg.PingInterval <= 0 {
		return errors.New("liveness.ping_interval must be positive")
	}
	if cfg.PongGrace <= 0 {
		return errors.New("liveness.pong_grace must be positive")
	}
	if cfg.PongGrace >= cfg.PingInterval {
		return errors.New("liveness.pong_grace must be shorter than liveness.ping_interval")
	}
	if cfg.ReconcileInterval <= 0 {
		return errors.New("liveness.reconcile_interval must be positive")
	}
	return nil
}
