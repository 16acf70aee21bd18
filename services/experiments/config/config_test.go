// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "12240", cfg.Port)
	assert.Equal(t, "/var/lib/aleutian/experiments", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.TracingEnabled)
	assert.Zero(t, cfg.RandSeed)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Port, cfg.Port)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
data_dir: /tmp/experiments
log_level: debug
tracing_enabled: true
rand_seed: 42
analysis:
  min_sample_size: 50
  deploy_threshold_percent: 3.5
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/tmp/experiments", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, uint64(42), cfg.RandSeed)
	assert.Equal(t, int64(50), cfg.Analysis.MinSampleSize)
	assert.InDelta(t, 3.5, cfg.Analysis.DeployThresholdPercent, 1e-9)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "12240", cfg.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiments.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\n"), 0600))

	t.Setenv("EXPERIMENTS_PORT", "9100")
	t.Setenv("EXPERIMENTS_DATA_DIR", "/data/exp")
	t.Setenv("EXPERIMENTS_TRACING_ENABLED", "true")
	t.Setenv("EXPERIMENTS_RAND_SEED", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "/data/exp", cfg.DataDir)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, uint64(7), cfg.RandSeed)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("EXPERIMENTS_LOG_LEVEL", "verbose")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unclosed\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
