// Fluxgate - On-Premises Data Acquisition Gateway
// Copyright 2026 Fluxgate Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxgate/fluxgate

// Command fluxgated runs the data-acquisition gateway: it loads the
// configuration, registers the built-in connector types, assembles the
// cache & delivery engine, and serves it until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fluxgate/fluxgate/internal/config"
	"github.com/fluxgate/fluxgate/internal/connector/filewriter"
	"github.com/fluxgate/fluxgate/internal/connector/folderscanner"
	"github.com/fluxgate/fluxgate/internal/engine"
	"github.com/fluxgate/fluxgate/internal/logging"
	"github.com/fluxgate/fluxgate/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxgated: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	engine.RegisterSouth(folderscanner.Type, folderscanner.New)
	engine.RegisterNorth(filewriter.Type, filewriter.New)

	eng, err := engine.New(cfg, metrics.NewSink())
	if err != nil {
		logging.Fatal().Err(err).Msg("engine assembly failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
