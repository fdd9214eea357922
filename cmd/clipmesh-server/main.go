// Package main provides the entry point for clipmesh-server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/service"
	"github.com/clipmesh/clipmesh-go/internal/infra/buildinfo"
	"github.com/clipmesh/clipmesh-go/internal/infra/confloader"
	"github.com/clipmesh/clipmesh-go/internal/infra/shutdown"
	"github.com/clipmesh/clipmesh-go/internal/server/config"
	"github.com/clipmesh/clipmesh-go/internal/server/httpserver"
	"github.com/clipmesh/clipmesh-go/internal/server/wireserver"
	"github.com/clipmesh/clipmesh-go/internal/storage/memory"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/logger"
	"github.com/clipmesh/clipmesh-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		wireAddr    = flag.String("addr", "", "Wire protocol listen address (overrides config)")
		httpAddr    = flag.String("http-addr", "", "HTTP ops listen address (overrides config)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("clipmesh-server %s\n", buildinfo.String())
		return nil
	}

	// Load configuration
	cfg, err := loadConfig(*configFile, *wireAddr, *httpAddr)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	slog.SetDefault(log)

	log.Info("starting clipmesh-server",
		"version", buildinfo.Get().Version,
		"commit", buildinfo.Get().Commit,
		"config", *configFile)

	// Root context cancels background loops on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core infrastructure
	metrics := metric.NewRegistry()
	store := memory.New()
	hub := wireserver.NewHub(log)

	// Domain services
	registrySvc := service.NewRegistryService(store, hub, log, metrics)
	verifySvc := service.NewVerifyService(store, hub, log, metrics,
		service.WithVerifyTimeout(cfg.Verify.Timeout))
	resolverSvc := service.NewResolverService(store, hub, log, metrics)
	relaySvc := service.NewRelayService(store, hub, log, metrics)
	livenessSvc := service.NewLivenessService(store, hub, log, metrics,
		service.WithLivenessIntervals(
			cfg.Liveness.PingInterval,
			cfg.Liveness.PongGrace,
			cfg.Liveness.ReconcileInterval))

	// Wire protocol server
	wireHandler := wireserver.NewHandler(registrySvc, verifySvc, resolverSvc, relaySvc, livenessSvc, hub, log)
	wireSrv := wireserver.New(&wireserver.Config{
		Address:      cfg.Server.Wire.Addr,
		ReadTimeout:  cfg.Server.Wire.ReadTimeout,
		WriteTimeout: cfg.Server.Wire.WriteTimeout,
		IdleTimeout:  cfg.Server.Wire.IdleTimeout,
		RateLimit:    cfg.Server.Wire.RateLimit,
	}, hub, wireHandler, log)

	if err := wireSrv.Start(ctx); err != nil {
		return fmt.Errorf("start wire server: %w", err)
	}
	log.Info("wire server listening", "addr", wireSrv.Addr().String())

	// Background loops: verification sweeps, liveness probes, reconciliation
	go verifySvc.Run(ctx)
	go livenessSvc.Run(ctx)

	// Setup graceful shutdown
	shutdownHandler := shutdown.NewHandler(30 * time.Second)

	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down wire server")
		cancel()
		return wireSrv.Shutdown(ctx)
	})

	// HTTP operations server
	if cfg.Server.HTTP.Enabled {
		router := httpserver.NewRouter(&httpserver.RouterConfig{
			Registry: registrySvc,
			Verify:   verifySvc,
			Metrics:  metrics,
			Logger:   log,
			Version:  buildinfo.Get().Version,
		})
		httpSrv := httpserver.New(cfg.Server.HTTP.Addr, router)

		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down HTTP server")
			return httpSrv.Shutdown(ctx)
		})

		go func() {
			log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", "error", err)
			}
		}()
	}

	// Watch the config file for log level changes
	if *configFile != "" {
		if err := watchLogLevel(*configFile, log, shutdownHandler); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	// Wait for shutdown signal
	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file, environment, and flag
// overrides, in increasing priority.
func loadConfig(configFile, wireAddr, httpAddr string) (*config.ServerConfig, error) {
	// Start with defaults
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	// Flags beat both file and environment
	if wireAddr != "" {
		cfg.Server.Wire.Addr = wireAddr
	}
	if httpAddr != "" {
		cfg.Server.HTTP.Addr = httpAddr
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// watchLogLevel hot-reloads the log level when the config file changes.
func watchLogLevel(configFile string, log *slog.Logger, sh *shutdown.Handler) error {
	watcher, err := confloader.NewWatcher(log)
	if err != nil {
		return err
	}
	if err := watcher.Watch(configFile); err != nil {
		return err
	}

	watcher.OnChange(func(string) {
		cfg := config.Default()
		loader := confloader.NewLoader(confloader.WithConfigFile(configFile))
		if err := loader.Load(cfg); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			log.Info("log level changed", "level", cfg.Log.Level)
			logger.SetLevel(cfg.Log.Level)
		}
	})
	watcher.StartAsync()

	sh.OnShutdown(func(context.Context) error {
		return watcher.Stop()
	})
	return nil
}
