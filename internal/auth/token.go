// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth holds the in-memory OAuth token cthulu authenticates its
// own `claude` subprocesses and microVMs with, plus the read path that
// refreshes it from the same sources consulted at startup.
//
// Grounded on original_source/cthulu-backend/api/auth/repository.rs
// (security find-generic-password against the macOS Keychain, falling
// back to CLAUDE_CODE_OAUTH_TOKEN) and internal/config/loader.go's env
// precedence for the same variable.
package auth

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"
)

const keychainService = "Claude Code-credentials"

// Store holds the current OAuth token in memory, guarded for concurrent
// reads from request handlers and writes from a refresh.
type Store struct {
	mu    sync.RWMutex
	token string
}

// NewStore creates a Store seeded with an initial token (possibly
// empty, meaning none is loaded yet).
func NewStore(initial string) *Store {
	return &Store{token: initial}
}

// Token returns the currently loaded token, and whether one is set.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set replaces the in-memory token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// ReadOAuthToken re-reads the access token from the macOS Keychain entry
// cthulu's credentials are stored under, falling back to
// CLAUDE_CODE_OAUTH_TOKEN. It returns "" if neither source has one.
func ReadOAuthToken() string {
	if raw := readKeychainRaw(); raw != "" {
		var parsed struct {
			ClaudeAiOauth struct {
				AccessToken string `json:"accessToken"`
			} `json:"claudeAiOauth"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed.ClaudeAiOauth.AccessToken != "" {
			return parsed.ClaudeAiOauth.AccessToken
		}
	}
	return os.Getenv("CLAUDE_CODE_OAUTH_TOKEN")
}

// ReadFullCredentials returns the raw Keychain JSON blob (the whole
// {"claudeAiOauth": {...}} object) so it can be written verbatim into a
// VM's ~/.claude/.credentials.json. Returns "" off macOS or when the
// entry doesn't exist or isn't valid JSON.
func ReadFullCredentials() string {
	raw := readKeychainRaw()
	if raw == "" {
		return ""
	}
	if !json.Valid([]byte(raw)) {
		return ""
	}
	return raw
}

func readKeychainRaw() string {
	out, err := exec.Command("security", "find-generic-password", "-s", keychainService, "-w").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
