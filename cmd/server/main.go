// Booking Core - booking lifecycle and escrow payments for creator marketplaces
package main

import (
	"context"
	"os"

	"github.com/auditoryx/booking-core/internal/config"
	"github.com/auditoryx/booking-core/internal/logging"
	"github.com/auditoryx/booking-core/internal/server"
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

	logger.Info("starting booking-core",
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
		"currency", cfg.Currency,
		"auto_release_window", cfg.AutoReleaseWindow.String(),
		"dispute_resolve_policy", string(cfg.DisputeResolvePolicy),
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
