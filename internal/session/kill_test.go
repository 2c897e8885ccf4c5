// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifiedKill_NilProcessIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { verifiedKill(nil) })
}

func TestVerifiedKill_KillsLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())

	verifiedKill(cmd.Process)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process was not killed")
	}
}

func TestVerifiedKill_AlreadyExitedProcessDoesNotPanic(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	assert.NotPanics(t, func() { verifiedKill(cmd.Process) })
}

func TestVerifiedKill_AcceptsOSProcessDirectly(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	proc, err := os.FindProcess(cmd.Process.Pid)
	require.NoError(t, err)

	verifiedKill(proc)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process was not killed")
	}
}
