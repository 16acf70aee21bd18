// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the experimentation engine: experiment
// lifecycle management, traffic allocation, result recording, and the
// bridge to the statistical analyzer.
//
// The engine is constructed once at process start and passed to handlers;
// there is no module-level state. All dependencies (repository, logger,
// clock, random source) are injected through Config so tests can pin them.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianExperiments/services/experiments/datatypes"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/engine/analysis"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/storage"
	"github.com/AleutianAI/AleutianExperiments/services/experiments/telemetry"
)

// Config configures the engine.
type Config struct {
	// Repo is the durable experiment repository. Required.
	Repo storage.Repository

	// Logger receives structured engine logs. If nil, slog.Default().
	Logger *slog.Logger

	// Clock returns the current time. If nil, time.Now. Tests pin it.
	Clock func() time.Time

	// RandSeed seeds the engine's random source for uniform and weighted
	// allocation. Zero means a time-derived seed.
	RandSeed uint64

	// Analysis configures the statistical analyzer.
	Analysis analysis.Config

	// Metrics is the optional Prometheus instrumentation. Nil disables.
	Metrics *telemetry.Metrics
}

// Engine is the experimentation engine.
//
// Thread Safety: Safe for concurrent use. The random source is guarded by
// a mutex; everything else is either immutable after construction or
// protected by storage transactions.
type Engine struct {
	repo     storage.Repository
	logger   *slog.Logger
	clock    func() time.Time
	analyzer *analysis.Analyzer
	metrics  *telemetry.Metrics

	randMu sync.Mutex
	rand   *rand.Rand

	// assignGroup collapses concurrent first assignments for the same
	// (experiment, subject) key onto one storage insert.
	assignGroup singleflight.Group
}

// New constructs an engine from the given configuration.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	seed := cfg.RandSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Engine{
		repo:     cfg.Repo,
		logger:   logger,
		clock:    clock,
		analyzer: analysis.New(cfg.Analysis, logger),
		metrics:  cfg.Metrics,
		rand:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// float64n returns a uniform draw in [0,1) from the engine's guarded
// random source.
func (e *Engine) float64n() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

// GetExperiment returns the experiment or ErrExperimentNotFound.
func (e *Engine) GetExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	exp, err := e.repo.GetExperiment(ctx, id)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return exp, nil
}

// ListExperiments returns all experiments, optionally filtered by status.
func (e *Engine) ListExperiments(ctx context.Context, status datatypes.ExperimentStatus) ([]*datatypes.Experiment, error) {
	return e.repo.ListExperiments(ctx, status)
}

// mapStorageErr translates repository misses into the engine taxonomy;
// transient storage failures pass through unchanged.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return ErrExperimentNotFound
	}
	return err
}
