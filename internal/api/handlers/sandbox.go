// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/sandbox"
)

// SandboxProvider is the subset of sandbox.Provider a SandboxHandler
// needs for the backend-agnostic info/list endpoints.
type SandboxProvider interface {
	Info() sandbox.Info
	List(ctx context.Context) ([]sandbox.Summary, error)
}

// VMLeaseManager is the per-(flow,node) VM lease surface, satisfied
// directly by *microvm.Backend. It is nil when VM_MANAGER_URL is unset,
// in which case the vm endpoints report Unsupported rather than falling
// back silently, per spec.md §7's policy for that error kind.
type VMLeaseManager interface {
	GetOrCreateVM(ctx context.Context, flowID, nodeID, tier, apiKey, persistedVMID string) (domain.VmInfo, error)
	GetNodeVM(flowID, nodeID string) (domain.VmInfo, bool)
	DestroyNodeVM(ctx context.Context, flowID, nodeID string) error
}

// SandboxHandler backs the /api/sandbox/* endpoints spec.md §6 lists.
type SandboxHandler struct {
	provider SandboxProvider
	vms      VMLeaseManager
}

// NewSandboxHandler creates a SandboxHandler. vms may be nil.
func NewSandboxHandler(provider SandboxProvider, vms VMLeaseManager) *SandboxHandler {
	return &SandboxHandler{provider: provider, vms: vms}
}

// Info reports the active sandbox backend's capability flags.
func (h *SandboxHandler) Info(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.provider.Info())
}

// List reports every known sandbox instance summary.
func (h *SandboxHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.provider.List(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

type createVMRequest struct {
	Tier          string `json:"tier"`
	APIKey        string `json:"api_key"`
	PersistedVMID string `json:"persisted_vm_id"`
}

// CreateVM provisions (or adopts) the VM leased to flow_id/node_id, per
// spec.md §8 scenario 4 ("VM lease survives restart").
func (h *SandboxHandler) CreateVM(w http.ResponseWriter, r *http.Request) {
	if h.vms == nil {
		WriteError(w, http.StatusNotImplemented, "UNSUPPORTED", "no microVM backend is configured")
		return
	}
	vars := mux.Vars(r)
	flowID, nodeID := vars["flow_id"], vars["node_id"]

	var req createVMRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	vm, err := h.vms.GetOrCreateVM(r.Context(), flowID, nodeID, req.Tier, req.APIKey, req.PersistedVMID)
	if err != nil {
		WriteError(w, http.StatusBadGateway, ErrServiceError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, vm)
}

// GetVM returns the in-memory lease for flow_id/node_id, if any.
func (h *SandboxHandler) GetVM(w http.ResponseWriter, r *http.Request) {
	if h.vms == nil {
		WriteError(w, http.StatusNotImplemented, "UNSUPPORTED", "no microVM backend is configured")
		return
	}
	vars := mux.Vars(r)
	vm, ok := h.vms.GetNodeVM(vars["flow_id"], vars["node_id"])
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "no VM leased for this flow/node")
		return
	}
	WriteJSON(w, http.StatusOK, vm)
}

// DeleteVM destroys flow_id/node_id's leased VM, idempotently per
// spec.md §8 ("Idempotent VM destroy").
func (h *SandboxHandler) DeleteVM(w http.ResponseWriter, r *http.Request) {
	if h.vms == nil {
		WriteError(w, http.StatusNotImplemented, "UNSUPPORTED", "no microVM backend is configured")
		return
	}
	vars := mux.Vars(r)
	if err := h.vms.DestroyNodeVM(r.Context(), vars["flow_id"], vars["node_id"]); err != nil {
		WriteError(w, http.StatusBadGateway, ErrServiceError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
