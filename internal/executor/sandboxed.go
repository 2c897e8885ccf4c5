// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"

	"github.com/saltyskip/cthulu/internal/sandbox"
)

// SandboxedExecutor issues the same claude CLI command through a
// sandbox.Handle's Exec call; stdout/stderr are captured as byte
// buffers rather than streamed, since Handle.Exec is not itself
// streaming for the host-jail backend.
type SandboxedExecutor struct {
	Handle             sandbox.Handle
	AppendSystemPrompt string
	Permissions        []string
}

func (e *SandboxedExecutor) Execute(ctx context.Context, prompt, workingDir string) (Result, error) {
	return e.ExecuteStreaming(ctx, prompt, workingDir, nil)
}

func (e *SandboxedExecutor) ExecuteStreaming(ctx context.Context, prompt, workingDir string, sink LineSink) (Result, error) {
	args := append(buildArgs(e.AppendSystemPrompt, e.Permissions, false), "-")
	res, err := e.Handle.Exec(ctx, sandbox.ExecRequest{
		Command:    append([]string{"claude"}, args...),
		Stdin:      prompt,
		WorkingDir: workingDir,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: sandboxed exec: %w", err)
	}
	if res.TimedOut {
		return Result{}, fmt.Errorf("executor: sandboxed exec timed out")
	}
	if sink != nil {
		sink(res.Stdout)
	}
	return parseOutput(res.Stdout), nil
}
