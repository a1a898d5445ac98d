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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianHTN/pkg/logging"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "random", cfg.Planner.Selector)
	assert.Equal(t, 64, cfg.Planner.MaxPermutations)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
	assert.True(t, strings.HasSuffix(cfg.Storage.Path, filepath.Join(".aleutian", "htn", "runs")))
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
planner:
  seed: 42
  selector: first
log:
  level: debug
server:
  addr: "127.0.0.1:9000"
  session_ttl: 5m
storage:
  in_memory: true
  path: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cfg.Planner.Seed)
	assert.Equal(t, "first", cfg.Planner.Selector)
	assert.Equal(t, 64, cfg.Planner.MaxPermutations, "unset fields keep defaults")
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionTTL)
	assert.True(t, cfg.Storage.InMemory)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTN_SEED", "7")
	t.Setenv("HTN_LOG_LEVEL", "warn")
	t.Setenv("HTN_STORAGE_PATH", "/tmp/htn-runs")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")

	cfg, err := Load(writeConfig(t, "planner: {seed: 1}\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.Planner.Seed)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/htn-runs", cfg.Storage.Path)
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "planner: ["))
		assert.Error(t, err)
	})
	t.Run("bad seed", func(t *testing.T) {
		t.Setenv("HTN_SEED", "minus one")
		_, err := Load(writeConfig(t, ""))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("validation", func(t *testing.T) {
		_, err := Load(writeConfig(t, "planner: {selector: sideways}\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("storage path required", func(t *testing.T) {
		_, err := Load(writeConfig(t, "storage: {path: \"\"}\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("too large", func(t *testing.T) {
		_, err := Load(writeConfig(t, strings.Repeat("#", MaxConfigFileSize+1)))
		assert.ErrorIs(t, err, ErrConfigTooLarge)
	})
}

func TestLoad_DefaultPathMayBeAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestPlannerConfig_Engine(t *testing.T) {
	p := PlannerConfig{Seed: 3, MaxIterations: 10, MaxPermutations: 5, Selector: "first"}

	batch := p.Engine(false)
	assert.Equal(t, engine.SelectFirst, batch.Selector)
	assert.Equal(t, uint64(3), batch.Seed)
	assert.Equal(t, 10, batch.MaxIterations)
	assert.Equal(t, 5, batch.MaxPermutations)

	p.Selector = "random"
	assert.Equal(t, engine.SelectRandom, p.Engine(false).Selector)
	assert.Equal(t, engine.SelectFirst, p.Engine(true).Selector, "sessions always take the first task")
}

func TestLogConfig_Logging(t *testing.T) {
	lc := LogConfig{Level: "debug", Dir: "/var/log/htn", JSON: true}.Logging("htn-server", true)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "htn-server", lc.Service)
	assert.True(t, lc.JSON)
	assert.True(t, lc.Quiet)

	assert.Equal(t, logging.LevelInfo, LogConfig{Level: "bogus"}.Logging("x", false).Level)
}
