// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the settings shared by the htn CLI and server.
//
// Settings come from, in increasing priority: Default(), a YAML file, and
// environment variables (HTN_SEED, HTN_LOG_LEVEL, HTN_STORAGE_PATH,
// HTN_SERVER_ADDR, OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianHTN/pkg/logging"
	"github.com/AleutianAI/AleutianHTN/services/planner/engine"
	"github.com/AleutianAI/AleutianHTN/services/planner/telemetry"
)

// MaxConfigFileSize bounds the config file.
const MaxConfigFileSize = 1 << 20

var (
	// ErrConfigTooLarge means the config file exceeds MaxConfigFileSize.
	ErrConfigTooLarge = errors.New("config file too large")

	// ErrInvalidConfig wraps validation and environment parse failures.
	ErrInvalidConfig = errors.New("invalid config")
)

var configValidate = validator.New()

// Config is the full htn configuration.
type Config struct {
	Planner   PlannerConfig    `yaml:"planner"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
}

// PlannerConfig tunes both engines.
type PlannerConfig struct {
	// Seed makes runs reproducible.
	Seed uint64 `yaml:"seed"`

	// MaxIterations bounds a batch run or one interactive call. 0 means
	// unlimited.
	MaxIterations int `yaml:"max_iterations" validate:"gte=0"`

	// MaxPermutations bounds the orderings pushed per decomposition in
	// interactive mode.
	MaxPermutations int `yaml:"max_permutations" validate:"gte=1,lte=40320"`

	// Selector picks the frontier task in batch mode: "random" or "first".
	Selector string `yaml:"selector" validate:"oneof=random first"`
}

// LogConfig maps onto logging.Config.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures `htn serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is requests per second per client IP.
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`

	// SessionTTL expires idle tutoring sessions.
	SessionTTL  time.Duration `yaml:"session_ttl" validate:"gte=1s"`
	MaxSessions int           `yaml:"max_sessions" validate:"gte=1"`

	// DomainDir is watched for domain files that may be planned against
	// by name. Empty disables the watcher.
	DomainDir string `yaml:"domain_dir"`
}

// StorageConfig locates the run history database.
type StorageConfig struct {
	Path     string `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `yaml:"in_memory"`

	// Disabled skips recording runs.
	Disabled bool `yaml:"disabled"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Planner: PlannerConfig{
			MaxIterations:   100000,
			MaxPermutations: 64,
			Selector:        "random",
		},
		Log: LogConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:        ":8089",
			RateLimit:   20,
			Burst:       40,
			SessionTTL:  30 * time.Minute,
			MaxSessions: 1000,
		},
		Storage: StorageConfig{Path: filepath.Join(homeDir(), ".aleutian", "htn", "runs")},
	}
}

// DefaultPath returns ~/.aleutian/htn/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), ".aleutian", "htn", "config.yaml")
}

// Load builds the configuration.
//
// # Description
//
// Starts from Default, overlays the YAML file at path, then applies
// environment overrides and validates. An empty path means DefaultPath,
// which may be absent; an explicit path must exist.
//
// # Outputs
//
//   - Config: The merged configuration.
//   - error: File, YAML, environment or validation errors.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := readConfig(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfig(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (max %d)", ErrConfigTooLarge, path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("HTN_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: HTN_SEED=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Planner.Seed = seed
	}
	if v := os.Getenv("HTN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HTN_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("HTN_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		c.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		c.Telemetry.MetricExporter = v
	}
	return nil
}

// Validate checks struct tags on every section.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Engine converts the planner section. Interactive sessions always select
// the first frontier task.
func (p PlannerConfig) Engine(interactive bool) engine.Config {
	cfg := engine.DefaultConfig()
	if interactive {
		cfg = engine.DefaultSessionConfig()
	} else if sel, ok := engine.ParseSelector(p.Selector); ok {
		cfg.Selector = sel
	}
	cfg.Seed = p.Seed
	cfg.MaxIterations = p.MaxIterations
	cfg.MaxPermutations = p.MaxPermutations
	return cfg
}

// Logging converts the log section for service.
func (l LogConfig) Logging(service string, quiet bool) logging.Config {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  l.Dir,
		Service: service,
		JSON:    l.JSON,
		Quiet:   quiet,
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
