// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hostjail

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/saltyskip/cthulu/internal/sandbox"
)

// Provider creates and reattaches host-jail handles rooted under a base
// workspace directory. This backend supports none of the
// persistent-state/checkpoint/sleep/public-HTTP capabilities.
type Provider struct {
	baseDir string
}

// NewProvider creates a Provider whose workspaces live under baseDir.
func NewProvider(baseDir string) *Provider {
	return &Provider{baseDir: baseDir}
}

func (p *Provider) Info() sandbox.Info {
	return sandbox.Info{Kind: sandbox.BackendHostJail}
}

func (p *Provider) Provision(ctx context.Context, spec sandbox.ProvisionSpec) (sandbox.Handle, error) {
	id := spec.WorkspaceID
	if id == "" {
		id = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}
	jail, err := Create(filepath.Join(p.baseDir, id))
	if err != nil {
		return nil, err
	}
	return &Handle{id: id, jail: jail}, nil
}

func (p *Provider) Attach(ctx context.Context, id string) (sandbox.Handle, error) {
	jail, err := Attach(filepath.Join(p.baseDir, id))
	if err != nil {
		return nil, err
	}
	return &Handle{id: id, jail: jail}, nil
}

func (p *Provider) List(ctx context.Context) ([]sandbox.Summary, error) {
	entries, err := filepath.Glob(filepath.Join(p.baseDir, "*"))
	if err != nil {
		return nil, err
	}
	out := make([]sandbox.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, sandbox.Summary{ID: filepath.Base(e), BackendKind: sandbox.BackendHostJail})
	}
	return out, nil
}

// Handle adapts an FsJail + direct host exec to the sandbox.Handle
// interface.
type Handle struct {
	id   string
	jail *FsJail
	mu   sync.Mutex
}

func (h *Handle) ID() string                        { return h.id }
func (h *Handle) BackendKind() sandbox.BackendKind   { return sandbox.BackendHostJail }
func (h *Handle) Capabilities() sandbox.Info         { return sandbox.Info{Kind: sandbox.BackendHostJail} }
func (h *Handle) Metadata() map[string]string        { return map[string]string{"root": h.jail.Root()} }

func (h *Handle) Exec(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	if len(req.Command) == 0 {
		return sandbox.ExecResult{}, fmt.Errorf("hostjail: empty command")
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, req.Command[0], req.Command[1:]...)
	cmd.Dir = h.jail.Root()
	if req.WorkingDir != "" {
		if resolved, err := h.jail.Resolve(req.WorkingDir); err == nil {
			cmd.Dir = resolved
		}
	}
	if req.Stdin != "" {
		cmd.Stdin = bytes.NewReader([]byte(req.Stdin))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	finished := time.Now()

	result := sandbox.ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		StartedAt:  started,
		FinishedAt: finished,
		TimedOut:   execCtx.Err() == context.DeadlineExceeded,
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("hostjail: exec: %w", err)
	}
	return result, nil
}

func (h *Handle) ExecStream(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecStream, error) {
	return nil, sandbox.Unsupported("exec_stream", sandbox.BackendHostJail)
}

func (h *Handle) PutFile(ctx context.Context, path string, data []byte) error {
	return h.jail.PutFile(path, data, true, 0)
}

func (h *Handle) GetFile(ctx context.Context, path string) ([]byte, error) {
	data, _, err := h.jail.GetFile(path, 0)
	return data, err
}

func (h *Handle) ReadDir(ctx context.Context, path string) ([]sandbox.DirEntry, error) {
	entries, err := h.jail.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]sandbox.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = sandbox.DirEntry{Name: e.Name, IsDir: e.IsDir, Size: e.Size}
	}
	return out, nil
}

func (h *Handle) RemovePath(ctx context.Context, path string) error {
	return h.jail.RemovePath(path, true)
}

func (h *Handle) ExposePort(ctx context.Context, port int) (string, error) {
	return "", sandbox.Unsupported("expose_port", sandbox.BackendHostJail)
}

func (h *Handle) UnexposePort(ctx context.Context, port int) error {
	return sandbox.Unsupported("unexpose_port", sandbox.BackendHostJail)
}

func (h *Handle) Checkpoint(ctx context.Context) (string, error) {
	return "", sandbox.Unsupported("checkpoint", sandbox.BackendHostJail)
}

func (h *Handle) Restore(ctx context.Context, checkpointID string) error {
	return sandbox.Unsupported("restore", sandbox.BackendHostJail)
}

func (h *Handle) Stop(ctx context.Context) error { return sandbox.Unsupported("stop", sandbox.BackendHostJail) }

func (h *Handle) Resume(ctx context.Context) error {
	return sandbox.Unsupported("resume", sandbox.BackendHostJail)
}

func (h *Handle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jail.Destroy()
}
