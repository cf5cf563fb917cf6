package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetpulse/internal/check"
	"github.com/HerbHall/fleetpulse/internal/config"
	"github.com/HerbHall/fleetpulse/internal/metrics"
	"github.com/HerbHall/fleetpulse/internal/plugin"
	"github.com/HerbHall/fleetpulse/internal/probe"
	"github.com/HerbHall/fleetpulse/internal/pulse"
	"github.com/HerbHall/fleetpulse/internal/server"
	"github.com/HerbHall/fleetpulse/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	// Load configuration
	v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetpulse: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(v)

	// Initialize logger
	logger, err := newLogger(cfg.GetBool("log.development"))
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("fleetpulse starting", zap.String("version", version.Short()))

	var probeCfg probe.Config
	if err := cfg.Sub("probe").Unmarshal(&probeCfg); err != nil {
		logger.Fatal("invalid probe configuration", zap.Error(err))
	}
	probes := probe.NewSuite(probeCfg, logger.Named("probe"))

	var rec metrics.Recorder = metrics.Nop{}
	var m *metrics.Metrics
	if cfg.GetBool("metrics.enabled") {
		m = metrics.New()
		rec = m
	}

	// Create plugin registry
	registry := plugin.NewRegistry(logger)

	// Register all plugins (compile-time composition)
	plugins := []plugin.Plugin{
		pulse.New(probes, rec),
		check.New(probes),
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			logger.Fatal("failed to register plugin", zap.Error(err))
		}
	}

	// Initialize all plugins
	if err := registry.InitAll(v); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}

	// Start plugins
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	// Create and start HTTP server
	addr := net.JoinHostPort(cfg.GetString("server.host"), cfg.GetString("server.port"))
	opts := server.Options{
		Addr:       addr,
		CORSOrigin: cfg.GetString("server.cors_origin"),
		StaticDir:  cfg.GetString("server.static_dir"),
	}
	if m != nil {
		opts.Metrics = m.Handler()
	}
	srv := server.New(opts, registry, logger)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("fleetpulse ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown. Stopping the plugins first closes the event
	// streams so the server is not left waiting on them.
	timeout := cfg.GetDuration("server.shutdown_timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	cancel()
	registry.StopAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("fleetpulse stopped")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
