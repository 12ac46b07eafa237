// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
	"github.com/vigil-obs/vigil/lib/anomaly"
	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/config"
	"github.com/vigil-obs/vigil/lib/ingest"
	"github.com/vigil-obs/vigil/lib/procmon"
	"github.com/vigil-obs/vigil/lib/snapshot"
	"github.com/vigil-obs/vigil/lib/store"
)

// app is the wired runtime for one command invocation.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *store.Store
	ingester     *ingest.Ingester
	detector     *anomaly.Detector
	orchestrator *snapshot.Orchestrator
}

// openApp loads configuration, opens the store, and wires the
// pipeline. Callers must close() when done.
func openApp() (*app, error) {
	logger := cli.NewLogger(flagVerbose)

	cfg, err := config.Load(flagRoot)
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	st, err := store.Open(store.Config{
		Path:   cfg.DBPath(),
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	ingester := ingest.New(st, logger)
	detector := anomaly.New(st, logger)
	monitor := procmon.New(clk, logger)
	orchestrator := snapshot.New(st, ingester, detector, monitor, clk, logger, snapshot.Config{
		ErrorWindow:       cfg.ErrorWindow(),
		CPUSampleInterval: cfg.CPUSampleInterval(),
		Ingest:            ingestConfig(cfg),
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		ingester:     ingester,
		detector:     detector,
		orchestrator: orchestrator,
	}, nil
}

// ingestConfig maps the loaded configuration onto ingest bounds.
func ingestConfig(cfg *config.Config) ingest.Config {
	return ingest.Config{
		TailLines:     cfg.Ingest.TailLines,
		MaxLineLength: cfg.Ingest.MaxLineLength,
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}
