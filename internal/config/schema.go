// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles cthulu's configuration surface: environment
// variables (spec.md §6) plus an optional cthulu.hjson file for
// non-spec operational knobs.
package config

// Config is cthulu's full configuration: spec.md's required surface
// (Port, SentryDSN, Environment, VMManagerURL, ClaudeCodeOAuthToken) plus
// the optional ambient operational knobs an HJSON file can set
// (BindAddress, DataDir, KeepAliveInterval) — narrowed from the
// teacher's much larger service-manager schema down to cthulu's domain.
type Config struct {
	Port                 int    `json:"port"`
	SentryDSN            string `json:"sentry_dsn"`
	Environment          string `json:"environment"`
	VMManagerURL         string `json:"vm_manager_url"`
	ClaudeCodeOAuthToken string `json:"claude_code_oauth_token"`

	// BindAddress, DataDir, and KeepAliveInterval are additive ambient
	// plumbing only settable via cthulu.hjson, not spec.md requirements.
	BindAddress       string `json:"bind_address"`
	DataDir           string `json:"data_dir"`
	KeepAliveInterval string `json:"keep_alive_interval"`
}
