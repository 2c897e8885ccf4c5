// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_Token_ReportsUnsetWhenEmpty(t *testing.T) {
	s := NewStore("")
	tok, ok := s.Token()
	assert.Empty(t, tok)
	assert.False(t, ok)
}

func TestStore_Token_ReturnsSeededValue(t *testing.T) {
	s := NewStore("seed-token")
	tok, ok := s.Token()
	assert.Equal(t, "seed-token", tok)
	assert.True(t, ok)
}

func TestStore_Set_ReplacesToken(t *testing.T) {
	s := NewStore("old")
	s.Set("new")
	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "new", tok)
}

func TestStore_Set_ToEmptyClearsToken(t *testing.T) {
	s := NewStore("old")
	s.Set("")
	_, ok := s.Token()
	assert.False(t, ok)
}

// The test environment has no "Claude Code-credentials" Keychain entry
// (and isn't macOS in CI), so readKeychainRaw always fails here: these
// assert the CLAUDE_CODE_OAUTH_TOKEN env fallback path instead of the
// Keychain path, which needs a real macOS host to exercise.
func TestReadOAuthToken_FallsBackToEnvWhenNoKeychainEntry(t *testing.T) {
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "env-token")
	assert.Equal(t, "env-token", ReadOAuthToken())
}

func TestReadOAuthToken_EmptyWhenNoSourceAvailable(t *testing.T) {
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "")
	assert.Equal(t, "", ReadOAuthToken())
}

func TestReadFullCredentials_EmptyWhenNoKeychainEntry(t *testing.T) {
	assert.Equal(t, "", ReadFullCredentials())
}
