// Chapel - entitlement and meeting-link core for church learning platforms
package main

import (
	"context"
	"os"

	"github.com/chapelhq/chapel/internal/config"
	"github.com/chapelhq/chapel/internal/logging"
	"github.com/chapelhq/chapel/internal/server"
	"github.com/chapelhq/chapel/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting chapel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"zoom_configured", cfg.Zoom.Configured(),
		"teams_configured", cfg.Microsoft.Configured(),
		"google_configured", cfg.Google.Configured(),
	)

	ctx := context.Background()

	// Tracing
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
