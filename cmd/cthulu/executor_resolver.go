// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/executor"
	"github.com/saltyskip/cthulu/internal/runner"
	"github.com/saltyskip/cthulu/internal/sandbox"
	"github.com/saltyskip/cthulu/internal/sandbox/microvm"
	"github.com/saltyskip/cthulu/internal/store"
)

// agentLookup is the seam into the agents resource store; satisfied by
// *store.Store[domain.Agent] (which newExecutorResolver takes) and by
// test fakes.
type agentLookup interface {
	Get(id string) (domain.Agent, bool)
}

// hostJailResolver implements runner.ExecutorResolver (spec component
// G's selection logic, deliberately left as a seam wired at the top of
// the program per internal/runner/runner.go's doc comment): it reads an
// executor node's config map for a sandbox kind, an agent reference, and
// permission/prompt overrides, then hands back a LocalExecutor,
// SandboxedExecutor, or RemoteVMExecutor accordingly.
//
// Grounded on original_source/cthulu-backend/flows/engine.rs's per-node
// "pick an executor strategy by config" dispatch, adapted to Go's
// explicit interface-return shape instead of a trait object built
// inline.
type hostJailResolver struct {
	agents  agentLookup
	jail    sandbox.Provider // host-jail backend, always present
	vms     *microvm.Backend // nil when VM_MANAGER_URL is unset
	baseDir string

	mu      sync.Mutex
	handles map[string]sandbox.Handle // workspace id -> live handle
}

func newExecutorResolver(agents *store.Store[domain.Agent], jail sandbox.Provider, vms *microvm.Backend, baseDir string) *hostJailResolver {
	return &hostJailResolver{
		agents:  agents,
		jail:    jail,
		vms:     vms,
		baseDir: baseDir,
		handles: make(map[string]sandbox.Handle),
	}
}

func workspaceID(flowID, nodeID string) string {
	return strings.ReplaceAll(flowID, "/", "_") + "__" + strings.ReplaceAll(nodeID, "/", "_")
}

func configString(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func configStrings(cfg map[string]interface{}, key string) []string {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ResolveExecutor implements runner.ExecutorResolver.
func (r *hostJailResolver) ResolveExecutor(ctx context.Context, flow domain.Flow, node domain.Node) (runner.ResolvedExecutor, error) {
	cfg := node.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}

	var agent domain.Agent
	if agentID := configString(cfg, "agent_id"); agentID != "" {
		if found, ok := r.agents.Get(agentID); ok {
			agent = found
		}
	}

	permissions := configStrings(cfg, "permissions")
	if permissions == nil {
		permissions = agent.Permissions
	}

	appendPrompt := configString(cfg, "append_system_prompt")
	if appendPrompt == "" && agent.AppendSystemPrompt != nil {
		appendPrompt = *agent.AppendSystemPrompt
	}

	workingDir := configString(cfg, "working_dir")
	if workingDir == "" && agent.WorkingDir != nil {
		workingDir = *agent.WorkingDir
	}

	switch configString(cfg, "sandbox") {
	case "", "local":
		return runner.ResolvedExecutor{
			Executor:   &executor.LocalExecutor{AppendSystemPrompt: appendPrompt, Permissions: permissions},
			WorkingDir: workingDir,
		}, nil

	case "host_jail":
		handle, err := r.hostJailHandle(ctx, flow.ID, node.ID)
		if err != nil {
			return runner.ResolvedExecutor{}, err
		}
		return runner.ResolvedExecutor{
			Executor:   &executor.SandboxedExecutor{Handle: handle, AppendSystemPrompt: appendPrompt, Permissions: permissions},
			WorkingDir: workingDir,
		}, nil

	case "microvm":
		if r.vms == nil {
			return runner.ResolvedExecutor{}, fmt.Errorf("executor resolver: node %s requests microvm but no VM backend is configured", node.ID)
		}
		vm, err := r.vms.GetOrCreateVM(ctx, flow.ID, node.ID, configString(cfg, "tier"), configString(cfg, "api_key"), "")
		if err != nil {
			return runner.ResolvedExecutor{}, err
		}
		terminal := microvm.NewVMTerminal(vm.WebTerminal)
		return runner.ResolvedExecutor{
			Executor:   &executor.RemoteVMExecutor{Terminal: terminal, AppendSystemPrompt: appendPrompt, Permissions: permissions},
			WorkingDir: workingDir,
		}, nil

	default:
		return runner.ResolvedExecutor{}, fmt.Errorf("executor resolver: node %s has unknown sandbox kind %q", node.ID, configString(cfg, "sandbox"))
	}
}

// hostJailHandle attaches to (or, on first use, provisions) the
// host-jail workspace for flowID/nodeID, caching the live handle for
// reuse across runs so a flow's executor node keeps its working tree
// between invocations.
func (r *hostJailResolver) hostJailHandle(ctx context.Context, flowID, nodeID string) (sandbox.Handle, error) {
	id := workspaceID(flowID, nodeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.handles[id]; ok {
		return handle, nil
	}

	if handle, err := r.jail.Attach(ctx, id); err == nil {
		r.handles[id] = handle
		return handle, nil
	}

	handle, err := r.jail.Provision(ctx, sandbox.ProvisionSpec{WorkspaceID: id})
	if err != nil {
		return nil, fmt.Errorf("executor resolver: provision host jail for %s: %w", id, err)
	}
	r.handles[id] = handle
	return handle, nil
}
