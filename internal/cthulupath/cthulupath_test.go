// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cthulupath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase_EnvOverrideWins(t *testing.T) {
	t.Setenv(EnvOverride, "/tmp/custom-cthulu")
	base, err := Base()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-cthulu", base)
}

func TestBase_FallsBackToHomeDotCthulu(t *testing.T) {
	t.Setenv(EnvOverride, "")
	base, err := Base()
	require.NoError(t, err)
	assert.Equal(t, ".cthulu", filepath.Base(base))
}

func TestWellKnownSubpaths(t *testing.T) {
	base := "/data/cthulu"
	assert.Equal(t, "/data/cthulu/flows", Flows(base))
	assert.Equal(t, "/data/cthulu/agents", Agents(base))
	assert.Equal(t, "/data/cthulu/prompts", Prompts(base))
	assert.Equal(t, "/data/cthulu/sessions.yaml", Sessions(base))
	assert.Equal(t, "/data/cthulu/attachments", Attachments(base))
}
