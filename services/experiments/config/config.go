// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the experiments service configuration.
//
// Precedence is file < environment: a YAML file (if provided) seeds the
// struct, then EXPERIMENTS_* variables override individual fields. This
// matches how the services are deployed under podman-compose, where env
// vars carry per-host values and the file carries the shared baseline.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Port the HTTP API listens on.
	Port string `yaml:"port" validate:"required"`

	// DataDir is the Badger database directory. Empty selects an
	// in-memory database, which is only useful for tests.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// LogDir receives rotated log files. Empty logs to stderr only.
	LogDir string `yaml:"log_dir"`

	// TracingEnabled turns on OTLP span export.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// RandSeed, when nonzero, makes uniform and weighted allocation
	// reproducible. Leave zero in production.
	RandSeed uint64 `yaml:"rand_seed"`

	Analysis AnalysisConfig `yaml:"analysis"`
}

// AnalysisConfig tunes the statistics layer. Zero values fall back to the
// analyzer defaults.
type AnalysisConfig struct {
	MinSampleSize           int64   `yaml:"min_sample_size" validate:"gte=0"`
	DeployThresholdPercent  float64 `yaml:"deploy_threshold_percent" validate:"gte=0"`
	MonteCarloDraws         int     `yaml:"monte_carlo_draws" validate:"gte=0"`
	MonteCarloSeed          uint64  `yaml:"monte_carlo_seed"`
	WinProbabilityThreshold float64 `yaml:"win_probability_threshold" validate:"gte=0,lte=1"`
	SequentialBeta          float64 `yaml:"sequential_beta" validate:"gte=0,lt=1"`
}

// DefaultConfig returns the configuration used when no file and no env
// vars are present.
func DefaultConfig() *Config {
	return &Config{
		Port:     "12240",
		DataDir:  "/var/lib/aleutian/experiments",
		LogLevel: "info",
	}
}

// Load builds the configuration from the optional YAML file at path plus
// environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("EXPERIMENTS_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("EXPERIMENTS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXPERIMENTS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EXPERIMENTS_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("EXPERIMENTS_TRACING_ENABLED"); v != "" {
		cfg.TracingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("EXPERIMENTS_RAND_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.RandSeed = n
		}
	}
}
