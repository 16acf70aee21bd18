// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianExperiments/pkg/logging"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/config"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine/analysis"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/routes"
	badgerstore "github.com/AleutianAI/AleutianExperiments/services/experiments/storage/badger"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/telemetry"
)

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "experiments",
		JSON:    true,
	})
	defer logger.Close()

	if cfg.TracingEnabled {
		cleanup, err := telemetry.InitTracer("experiments")
		if err != nil {
			log.Fatalf("FATAL: failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	storeCfg := badgerstore.DefaultConfig()
	storeCfg.Path = cfg.DataDir
	storeCfg.Logger = logger.Slog()
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, using in-memory storage")
		storeCfg = badgerstore.InMemoryConfig()
		storeCfg.Logger = logger.Slog()
	}
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open the experiment store: %v", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	eng := engine.New(engine.Config{
		Repo:     store,
		Logger:   logger.Slog(),
		RandSeed: cfg.RandSeed,
		Metrics:  metrics,
		Analysis: analysis.Config{
			MinSampleSize:           cfg.Analysis.MinSampleSize,
			DeployThresholdPercent:  cfg.Analysis.DeployThresholdPercent,
			MonteCarloDraws:         cfg.Analysis.MonteCarloDraws,
			MonteCarloSeed:          cfg.Analysis.MonteCarloSeed,
			WinProbabilityThreshold: cfg.Analysis.WinProbabilityThreshold,
			SequentialBeta:          cfg.Analysis.SequentialBeta,
		},
	})

	router := gin.Default()
	routes.SetupRoutes(router, eng, registry)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("experiments service listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
