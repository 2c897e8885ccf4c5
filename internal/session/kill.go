// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"

	ps "github.com/mitchellh/go-ps"
)

// verifiedKill signals proc only after confirming the OS still has a
// live process at that PID, per spec.md §5's "killed by PID, never by
// name-matching": a PID can be reused by an unrelated process once the
// original one has already exited, so a bare Kill-by-PID without this
// check risks signaling a stranger. A ps lookup failure (platform
// without /proc, permission denied) falls back to the bare Kill rather
// than silently skipping it.
func verifiedKill(proc *os.Process) {
	if proc == nil {
		return
	}
	found, err := ps.FindProcess(proc.Pid)
	if err == nil && found == nil {
		return
	}
	proc.Kill()
}
