// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cthulupath resolves cthulu's base data directory: the root
// under which flows/, agents/, prompts/, sessions.yaml, and attachments/
// live, per spec.md §6's "Persistent state layout".
//
// Grounded on original_source/cthulu-backend/config.rs's env-override
// pattern (an env var wins, else fall back to a computed default),
// applied here to directory resolution instead of server settings.
package cthulupath

import (
	"os"
	"path/filepath"
)

// EnvOverride names the environment variable that, if set, replaces the
// computed default base directory entirely.
const EnvOverride = "CTHULU_HOME"

// Base returns the base data directory: CTHULU_HOME if set and
// non-empty, else $HOME/.cthulu.
func Base() (string, error) {
	if v := os.Getenv(EnvOverride); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cthulu"), nil
}

// Flows, Agents, Prompts, Sessions, and Attachments return the
// well-known subpaths spec.md §6 names, rooted at base.
func Flows(base string) string       { return filepath.Join(base, "flows") }
func Agents(base string) string      { return filepath.Join(base, "agents") }
func Prompts(base string) string     { return filepath.Join(base, "prompts") }
func Sessions(base string) string    { return filepath.Join(base, "sessions.yaml") }
func Attachments(base string) string { return filepath.Join(base, "attachments") }
