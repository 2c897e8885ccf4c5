// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/scheduler"
)

// ActiveFlowLister is the subset of *scheduler.Scheduler a
// SchedulerHandler needs.
type ActiveFlowLister interface {
	ActiveFlowIDs() []string
}

// SchedulerHandler backs GET /api/scheduler/status, GET
// /api/flows/{id}/schedule, and POST /api/validate/cron.
type SchedulerHandler struct {
	scheduler ActiveFlowLister
	flows     ResourceStore[domain.Flow]
}

// NewSchedulerHandler creates a SchedulerHandler.
func NewSchedulerHandler(sched ActiveFlowLister, flows ResourceStore[domain.Flow]) *SchedulerHandler {
	return &SchedulerHandler{scheduler: sched, flows: flows}
}

// statusResponse is the GET /api/scheduler/status shape.
type statusResponse struct {
	ActiveFlowIDs []string `json:"active_flow_ids"`
}

// Status reports which flows currently have a registered scheduler task.
func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, statusResponse{ActiveFlowIDs: h.scheduler.ActiveFlowIDs()})
}

// scheduleResponse is the GET /api/flows/{id}/schedule shape.
type scheduleResponse struct {
	FlowID   string `json:"flow_id"`
	Active   bool   `json:"active"`
	Kind     string `json:"kind,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// Schedule reports flowID's trigger kind/schedule and whether the
// scheduler currently has a task registered for it.
func (h *SchedulerHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flow, ok := h.flows.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "flow not found: "+id)
		return
	}

	resp := scheduleResponse{FlowID: id}
	for _, active := range h.scheduler.ActiveFlowIDs() {
		if active == id {
			resp.Active = true
			break
		}
	}
	if node, ok := flow.TriggerNode(); ok {
		resp.Kind = node.Kind
		if schedule, ok := node.Config["schedule"].(string); ok {
			resp.Schedule = schedule
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

type cronValidateRequest struct {
	Expression string `json:"expression"`
}

type cronValidateResponse struct {
	Valid     bool        `json:"valid"`
	NextFires []time.Time `json:"next_fires,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ValidateCron parses a cron expression and returns its next 5 fire
// times, per spec.md §6's POST /api/validate/cron. Invalid expressions
// are reported in the body with valid=false rather than a 4xx, since the
// caller is usually validating as-you-type.
func (h *SchedulerHandler) ValidateCron(w http.ResponseWriter, r *http.Request) {
	var req cronValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	fires, err := scheduler.NextFireTimes(req.Expression, 5)
	if err != nil {
		WriteJSON(w, http.StatusOK, cronValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, cronValidateResponse{Valid: true, NextFires: fires})
}
