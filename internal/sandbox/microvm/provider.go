// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package microvm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/sandbox"
)

// Provider adapts Backend's per-node VM leases to the sandbox.Provider
// interface. ProvisionSpec.Labels carries the flow/node identity and
// optional persisted_vm_id the generic sandbox callers don't otherwise
// have a field for: "flow_id", "node_id", "api_key", "persisted_vm_id".
type Provider struct {
	backend *Backend
}

// NewProvider creates a Provider over an existing Backend.
func NewProvider(backend *Backend) *Provider {
	return &Provider{backend: backend}
}

func (p *Provider) Info() sandbox.Info {
	return sandbox.Info{
		Kind:                    sandbox.BackendMicrovm,
		SupportsPersistentState: true,
		SupportsPublicHTTP:      true,
	}
}

func (p *Provider) Provision(ctx context.Context, spec sandbox.ProvisionSpec) (sandbox.Handle, error) {
	flowID := spec.Labels["flow_id"]
	nodeID := spec.Labels["node_id"]
	vm, err := p.backend.GetOrCreateVM(ctx, flowID, nodeID, spec.Profile, spec.Labels["api_key"], spec.Labels["persisted_vm_id"])
	if err != nil {
		return nil, err
	}
	return newHandle(p.backend, flowID, nodeID, vm), nil
}

// Attach re-adopts a node's lease by id, which is formatted "flowID/nodeID".
func (p *Provider) Attach(ctx context.Context, id string) (sandbox.Handle, error) {
	flowID, nodeID, err := splitNodeHandleID(id)
	if err != nil {
		return nil, err
	}
	if vm, ok := p.backend.GetNodeVM(flowID, nodeID); ok {
		return newHandle(p.backend, flowID, nodeID, vm), nil
	}
	return nil, sandbox.Unsupported("attach (no known lease for "+id+")", sandbox.BackendMicrovm)
}

func (p *Provider) List(ctx context.Context) ([]sandbox.Summary, error) {
	p.backend.mu.Lock()
	defer p.backend.mu.Unlock()
	out := make([]sandbox.Summary, 0, len(p.backend.nodeVMs))
	for key, vm := range p.backend.nodeVMs {
		out = append(out, sandbox.Summary{ID: key.flowID + "/" + key.nodeID + "#" + vm.VmID, BackendKind: sandbox.BackendMicrovm})
	}
	return out, nil
}

func splitNodeHandleID(id string) (flowID, nodeID string, err error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("microvm: malformed handle id %q, want flowID/nodeID", id)
	}
	return parts[0], parts[1], nil
}

// Handle adapts a leased VM plus its terminal to the sandbox.Handle
// interface. Exec and the file operations are all implemented as shell
// commands run through the VM's ttyd-protocol terminal, since that is
// the only command-execution surface the control plane exposes.
type Handle struct {
	backend  *Backend
	flowID   string
	nodeID   string
	vm       domain.VmInfo
	terminal *VMTerminal
}

func newHandle(backend *Backend, flowID, nodeID string, vm domain.VmInfo) *Handle {
	return &Handle{backend: backend, flowID: flowID, nodeID: nodeID, vm: vm, terminal: NewVMTerminal(vm.WebTerminal)}
}

func (h *Handle) ID() string                      { return h.flowID + "/" + h.nodeID }
func (h *Handle) BackendKind() sandbox.BackendKind { return sandbox.BackendMicrovm }
func (h *Handle) Capabilities() sandbox.Info {
	return sandbox.Info{Kind: sandbox.BackendMicrovm, SupportsPersistentState: true, SupportsPublicHTTP: true}
}
func (h *Handle) Metadata() map[string]string {
	return map[string]string{"vm_id": h.vm.VmID, "guest_ip": h.vm.GuestIP, "tier": h.vm.Tier}
}

func (h *Handle) Exec(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	command := shellCommand(req.Command, req.WorkingDir)
	started := time.Now()
	transcript, err := h.terminal.RunCommand(ctx, command)
	finished := time.Now()

	result := sandbox.ExecResult{
		Stdout:     transcript,
		StartedAt:  started,
		FinishedAt: finished,
		TimedOut:   ctx.Err() == context.DeadlineExceeded,
	}
	if err != nil && !result.TimedOut {
		return result, fmt.Errorf("microvm: exec: %w", err)
	}
	return result, nil
}

func (h *Handle) ExecStream(ctx context.Context, req sandbox.ExecRequest) (sandbox.ExecStream, error) {
	return nil, sandbox.Unsupported("exec_stream", sandbox.BackendMicrovm)
}

func (h *Handle) PutFile(ctx context.Context, path string, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	command := fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s",
		shellQuote(parentDir(path)), shellQuote(encoded), shellQuote(path))
	_, err := h.terminal.RunCommand(ctx, command)
	return err
}

func (h *Handle) GetFile(ctx context.Context, path string) ([]byte, error) {
	transcript, err := h.terminal.RunCommand(ctx, "base64 "+shellQuote(path))
	if err != nil {
		return nil, err
	}
	decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(transcript))
	if decErr != nil {
		return nil, fmt.Errorf("microvm: decode file contents: %w", decErr)
	}
	return decoded, nil
}

func (h *Handle) ReadDir(ctx context.Context, path string) ([]sandbox.DirEntry, error) {
	transcript, err := h.terminal.RunCommand(ctx, fmt.Sprintf("ls -la --time-style=full-iso %s", shellQuote(path)))
	if err != nil {
		return nil, err
	}
	return parseLsOutput(transcript), nil
}

func (h *Handle) RemovePath(ctx context.Context, path string) error {
	_, err := h.terminal.RunCommand(ctx, "rm -rf "+shellQuote(path))
	return err
}

func (h *Handle) ExposePort(ctx context.Context, port int) (string, error) {
	return "", sandbox.Unsupported("expose_port (ports are fixed at provision time)", sandbox.BackendMicrovm)
}

func (h *Handle) UnexposePort(ctx context.Context, port int) error {
	return sandbox.Unsupported("unexpose_port", sandbox.BackendMicrovm)
}

func (h *Handle) Checkpoint(ctx context.Context) (string, error) {
	return "", sandbox.Unsupported("checkpoint", sandbox.BackendMicrovm)
}

func (h *Handle) Restore(ctx context.Context, checkpointID string) error {
	return sandbox.Unsupported("restore", sandbox.BackendMicrovm)
}

func (h *Handle) Stop(ctx context.Context) error {
	return sandbox.Unsupported("stop", sandbox.BackendMicrovm)
}

func (h *Handle) Resume(ctx context.Context) error {
	return sandbox.Unsupported("resume", sandbox.BackendMicrovm)
}

func (h *Handle) Destroy(ctx context.Context) error {
	return h.backend.DestroyNodeVM(ctx, h.flowID, h.nodeID)
}

func shellCommand(command []string, workingDir string) string {
	quoted := make([]string, len(command))
	for i, part := range command {
		quoted[i] = shellQuote(part)
	}
	line := strings.Join(quoted, " ")
	if workingDir != "" {
		return "cd " + shellQuote(workingDir) + " && " + line
	}
	return line
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// parseLsOutput best-effort-parses `ls -la` lines into DirEntry. Lines
// that don't match the expected column count (summary/header lines)
// are skipped.
func parseLsOutput(transcript string) []sandbox.DirEntry {
	var entries []sandbox.DirEntry
	for _, line := range strings.Split(transcript, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		size, _ := strconv.ParseInt(fields[4], 10, 64)
		entries = append(entries, sandbox.DirEntry{
			Name:  name,
			IsDir: strings.HasPrefix(fields[0], "d"),
			Size:  size,
		})
	}
	return entries
}
