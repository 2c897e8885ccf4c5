// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading and environment overrides.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses an optional cthulu.hjson file at path. A missing
// file is not an error: it yields a zero Config so EnvOverrides/
// LoadWithDefaults can still produce a usable configuration from the
// environment alone.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads cfg from path (if present), layers environment
// variables on top per spec.md §6, then applies defaults to anything
// still unset.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	EnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig looks for an optional cthulu.hjson in the current directory.
// Unlike the teacher's FindConfig, a miss is not fatal — cthulu.hjson is
// entirely optional ambient plumbing, not a required project file.
func (l *Loader) FindConfig() (string, bool) {
	path := filepath.Join(".", "cthulu.hjson")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, true
	}
	return abs, true
}

// EnvOverrides layers spec.md §6's environment variables on top of cfg,
// mirroring the teacher's Options-override-after-Load pattern in
// app.New: an env var wins over whatever cthulu.hjson (or a zero Config)
// set, since the environment is the authoritative configuration surface
// and the HJSON file only supplies additive operational knobs.
func EnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("VM_MANAGER_URL"); v != "" {
		cfg.VMManagerURL = v
	}
	if v := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); v != "" {
		cfg.ClaudeCodeOAuthToken = v
	}
}

// applyDefaults fills in defaults for whatever neither cthulu.hjson nor
// the environment set, per original_source/cthulu-backend/config.rs's
// from_raw_values defaulting (port 8081, environment "local").
func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.KeepAliveInterval == "" {
		cfg.KeepAliveInterval = "30s"
	}
}
