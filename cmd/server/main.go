// Command server runs the agentbroker HTTP API: escrow, negotiation,
// webhook delivery, and tipping engines behind a single process.
package main

import (
	"context"
	"os"

	"github.com/mbd888/agentbroker/internal/config"
	"github.com/mbd888/agentbroker/internal/logging"
	"github.com/mbd888/agentbroker/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting agentbroker",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"payout_executor", cfg.PayoutExecutor,
	)

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
