// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command pvrd runs the PVR daemon and its maintenance tools.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	xglog "github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/version"
)

func main() {
	// Safe defaults until the configuration is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "pvrd",
		Version: version.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger := xglog.WithComponent("cli")
		logger.Error().Err(err).Str(xglog.FieldEvent, "cli.failed").Msg("command failed")
		stop()
		os.Exit(1)
	}
}
