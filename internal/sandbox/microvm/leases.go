// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package microvm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/errs"
)

// LeaseStore persists the (flow_id, node_id) → vm_id lease map so leases
// survive a restart. Implemented by internal/state's YAML-backed store.
type LeaseStore interface {
	GetLease(flowID, nodeID string) (domain.VmLease, bool)
	PutLease(lease domain.VmLease)
	DeleteLease(flowID, nodeID string)
}

type nodeKey struct {
	flowID string
	nodeID string
}

// Backend owns the in-memory node_vms table plus a durable lease-map
// fallback, per spec.md §4.J.
type Backend struct {
	client  *Client
	leases  LeaseStore
	mu      sync.Mutex
	nodeVMs map[nodeKey]domain.VmInfo
}

// NewBackend creates a Backend talking to client and persisting leases
// through store.
func NewBackend(client *Client, store LeaseStore) *Backend {
	return &Backend{client: client, leases: store, nodeVMs: make(map[nodeKey]domain.VmInfo)}
}

// GetOrCreateVM consults the in-memory table first; on a miss it tries
// to adopt persistedVMID (if given) via GET /vms/{id}, clearing the
// lease and falling through to creation on a 404; otherwise it creates
// a fresh VM via POST /vms and records it in memory and in the
// persistent lease map.
func (b *Backend) GetOrCreateVM(ctx context.Context, flowID, nodeID, tier, apiKey, persistedVMID string) (domain.VmInfo, error) {
	key := nodeKey{flowID, nodeID}

	b.mu.Lock()
	if vm, ok := b.nodeVMs[key]; ok {
		b.mu.Unlock()
		return vm, nil
	}
	b.mu.Unlock()

	if persistedVMID != "" {
		vm, err := b.client.GetVM(ctx, persistedVMID)
		switch {
		case err == nil:
			b.record(flowID, nodeID, vm)
			return vm, nil
		case errs.Is(err, errs.NotFound):
			b.leases.DeleteLease(flowID, nodeID)
		default:
			return domain.VmInfo{}, err
		}
	}

	vm, err := b.client.CreateVM(ctx, tier, apiKey)
	if err != nil {
		return domain.VmInfo{}, err
	}
	b.record(flowID, nodeID, vm)
	return vm, nil
}

// GetNodeVM is a memory-only lookup; it never calls the control plane.
func (b *Backend) GetNodeVM(flowID, nodeID string) (domain.VmInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm, ok := b.nodeVMs[nodeKey{flowID, nodeID}]
	return vm, ok
}

// DestroyNodeVM deletes the node's VM; a 404 from the control plane is
// treated as success (idempotent) and the lease is cleared either way.
func (b *Backend) DestroyNodeVM(ctx context.Context, flowID, nodeID string) error {
	key := nodeKey{flowID, nodeID}

	b.mu.Lock()
	vm, ok := b.nodeVMs[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	err := b.client.DeleteVM(ctx, vm.VmID)

	b.mu.Lock()
	delete(b.nodeVMs, key)
	b.mu.Unlock()
	b.leases.DeleteLease(flowID, nodeID)

	return err
}

// RestoreNodeVM re-adopts a lease found in the durable lease map after a
// cold start. On a NotFound from the control plane it deletes the stale
// lease from the lease store before returning the error.
func (b *Backend) RestoreNodeVM(ctx context.Context, flowID, nodeID, vmID string) (domain.VmInfo, error) {
	vm, err := b.client.GetVM(ctx, vmID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			b.leases.DeleteLease(flowID, nodeID)
		}
		return domain.VmInfo{}, err
	}
	b.record(flowID, nodeID, vm)
	return vm, nil
}

// AllVMs returns every currently leased VM, for the credential
// re-injection sweep POST /api/auth/refresh-token drives.
func (b *Backend) AllVMs() []domain.VmInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.VmInfo, 0, len(b.nodeVMs))
	for _, vm := range b.nodeVMs {
		out = append(out, vm)
	}
	return out
}

// InjectCredentials re-writes the OAuth token (and, if known, the full
// credentials JSON blob) into vm's shell environment over its web
// terminal, per original_source's inject_oauth_token_pub: VMs pick up a
// refreshed token from ~/.bashrc, not from any control-plane call.
func (b *Backend) InjectCredentials(ctx context.Context, vm domain.VmInfo, token string, credentialsJSON string) error {
	terminal := NewVMTerminal(vm.WebTerminal)

	exportLine := fmt.Sprintf(
		`sed -i '/^export CLAUDE_CODE_OAUTH_TOKEN=/d' ~/.bashrc; echo %s >> ~/.bashrc`,
		shellQuote("export CLAUDE_CODE_OAUTH_TOKEN="+token),
	)
	if _, err := terminal.RunCommand(ctx, exportLine); err != nil {
		return fmt.Errorf("microvm: inject token into %s: %w", vm.VmID, err)
	}

	if credentialsJSON == "" {
		return nil
	}
	writeCreds := fmt.Sprintf(
		"mkdir -p ~/.claude && echo %s | base64 -d > ~/.claude/.credentials.json",
		base64.StdEncoding.EncodeToString([]byte(credentialsJSON)),
	)
	if _, err := terminal.RunCommand(ctx, writeCreds); err != nil {
		return fmt.Errorf("microvm: inject credentials into %s: %w", vm.VmID, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (b *Backend) record(flowID, nodeID string, vm domain.VmInfo) {
	b.mu.Lock()
	b.nodeVMs[nodeKey{flowID, nodeID}] = vm
	b.mu.Unlock()
	b.leases.PutLease(domain.VmLease{FlowID: flowID, NodeID: nodeID, VmID: vm.VmID})
}
