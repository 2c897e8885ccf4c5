// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// VMTerminal runs one composite shell command inside a microVM over its
// terminal WebSocket and returns the raw transcript, per spec.md §4.J's
// ttyd-protocol command execution.
type VMTerminal interface {
	RunCommand(ctx context.Context, command string) (string, error)
}

const vmPromptPath = "/tmp/cthulu_prompt.txt"

// RemoteVMExecutor uploads the prompt as a base64-encoded file inside the
// VM in one composite shell command, then pipes it into the claude CLI;
// the terminal transcript is treated as the raw event stream. Since a VM
// runs as root, --dangerously-skip-permissions is rejected there, so the
// default tool allowlist is used whenever Permissions is empty.
type RemoteVMExecutor struct {
	Terminal           VMTerminal
	AppendSystemPrompt string
	Permissions        []string
}

func (e *RemoteVMExecutor) Execute(ctx context.Context, prompt, workingDir string) (Result, error) {
	return e.ExecuteStreaming(ctx, prompt, workingDir, nil)
}

func (e *RemoteVMExecutor) ExecuteStreaming(ctx context.Context, prompt, workingDir string, sink LineSink) (Result, error) {
	args := buildArgs(e.AppendSystemPrompt, e.Permissions, true)
	command := vmCompositeCommand(prompt, workingDir, args)

	transcript, err := e.Terminal.RunCommand(ctx, command)
	if err != nil {
		return Result{}, fmt.Errorf("executor: remote VM command: %w", err)
	}
	if sink != nil {
		for _, line := range strings.Split(transcript, "\n") {
			sink(line)
		}
	}
	return parseOutput(transcript), nil
}

// vmCompositeCommand base64-encodes the prompt to avoid shell quoting
// problems, writes it to a well-known path, sources the credentials
// file, runs the CLI with stdin redirected from the prompt file, then
// removes the temp file.
func vmCompositeCommand(prompt, workingDir string, claudeArgs []string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(prompt))
	cdPart := ""
	if workingDir != "" {
		cdPart = "cd " + shellQuote(workingDir) + " && "
	}

	quotedArgs := make([]string, len(claudeArgs))
	for i, a := range claudeArgs {
		quotedArgs[i] = shellQuote(a)
	}

	return fmt.Sprintf(
		"%secho %s | base64 -d > %s && source ~/.bashrc && claude %s < %s; rm -f %s",
		cdPart,
		shellQuote(encoded),
		vmPromptPath,
		strings.Join(quotedArgs, " "),
		vmPromptPath,
		vmPromptPath,
	)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
