// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package executor implements the Executor Strategy (spec component G):
// a uniform contract over three ways of running the `claude` CLI against
// a prompt — local subprocess, sandboxed subprocess, and a remote
// microVM over its terminal WebSocket — plus the NDJSON result parser
// shared by all three.
//
// Grounded on internal/claude/manager.go's ensureProcess (CLI flag
// construction) and readLoop (bufio.Scanner NDJSON read loop, StreamEvent
// shape, the authoritative "result" event).
package executor

import "context"

// Result is the outcome of one executor invocation.
type Result struct {
	Text     string
	CostUSD  float64
	NumTurns uint64
}

// LineSink receives each raw line of CLI output as it streams.
type LineSink func(line string)

// Executor is the uniform contract spec.md §4.G requires of every
// backend that can run the CLI against a prompt.
type Executor interface {
	Execute(ctx context.Context, prompt, workingDir string) (Result, error)
	ExecuteStreaming(ctx context.Context, prompt, workingDir string, sink LineSink) (Result, error)
}

// defaultVMToolAllowlist is used in place of --dangerously-skip-permissions
// when a node's sandbox backend is a privileged VM (which runs as root
// and rejects that flag). Resolved per DESIGN.md's Open Question decision
// for spec.md §4.G's "explicit default tool allowlist" requirement.
var defaultVMToolAllowlist = []string{
	"Bash", "Read", "Write", "Edit", "Glob", "Grep", "WebFetch", "WebSearch", "TodoWrite",
}

// buildArgs constructs the claude CLI argument list shared by all three
// backends, per spec.md §4.G: `--print --verbose --output-format
// stream-json [--append-system-prompt P] (--dangerously-skip-permissions
// | --allowedTools T1,T2)`.
func buildArgs(appendSystemPrompt string, permissions []string, privilegedVM bool) []string {
	args := []string{"--print", "--verbose", "--output-format", "stream-json"}
	if appendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", appendSystemPrompt)
	}

	switch {
	case len(permissions) == 0 && !privilegedVM:
		args = append(args, "--dangerously-skip-permissions")
	case len(permissions) > 0:
		args = append(args, "--allowedTools", joinComma(permissions))
	default:
		// Empty permissions but running as root inside a VM: that flag is
		// rejected there, so fall back to the default allowlist.
		args = append(args, "--allowedTools", joinComma(defaultVMToolAllowlist))
	}
	return args
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
