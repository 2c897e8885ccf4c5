// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
)

// FlowRunner triggers a flow's execution; satisfied directly by
// *runner.Runner.
type FlowRunner interface {
	Run(ctx context.Context, flow domain.Flow) error
}

// RunHistory is the subset of history.RunHistory a FlowHandler needs;
// satisfied directly by *history.RunHistory.
type RunHistory interface {
	GetRuns(flowID string) []domain.FlowRun
}

// FlowHandler wraps the generic flows CRUD with the flow-specific
// trigger/runs/live-stream endpoints spec.md §6 names.
type FlowHandler struct {
	*ResourceHandler[domain.Flow]
	flows   ResourceStore[domain.Flow]
	runner  FlowRunner
	history RunHistory
	bus     events.EventBus
}

// NewFlowHandler creates a FlowHandler.
func NewFlowHandler(flows ResourceStore[domain.Flow], bus events.EventBus, runner FlowRunner, hist RunHistory) *FlowHandler {
	return &FlowHandler{
		ResourceHandler: NewResourceHandler(flows, bus, domain.ResourceFlow, assignFlowID, withFlowID),
		flows:           flows,
		runner:          runner,
		history:         hist,
		bus:             bus,
	}
}

func assignFlowID(f domain.Flow) domain.Flow {
	now := time.Now()
	f.ID = uuid.New().String()
	f.Version = 1
	f.CreatedAt = now
	f.UpdatedAt = now
	return f
}

func withFlowID(body domain.Flow, id string) domain.Flow {
	body.ID = id
	body.UpdatedAt = time.Now()
	return body
}

// Trigger enqueues a manual run of flowID, per spec.md §6's
// POST /api/flows/{id}/trigger. It does not block for completion: the
// run proceeds on its own background context, matching the scheduler's
// own fire-and-forget invocation. runner.Run forwards its caller's
// cancellation into the run, so the request context's cancellation is
// detached here; otherwise the run would be canceled as soon as this
// handler returns.
func (h *FlowHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flow, ok := h.flows.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "flow not found: "+id)
		return
	}
	if err := h.runner.Run(context.WithoutCancel(r.Context()), flow); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"flow_id": id})
}

// Runs lists flowID's run history, newest first.
func (h *FlowHandler) Runs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.flows.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "flow not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, h.history.GetRuns(id))
}

// RunsLive streams flowID's RunEvents as they're published, per
// spec.md §6's server-sent-event wire shape, grounded on
// internal/api/handlers/logs.go's SSE idiom (event-stream headers,
// flusher, keep-alive ticker) with the 15s interval spec.md §6 specifies
// in place of the teacher's 30s.
func (h *FlowHandler) RunsLive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "streaming not supported")
		return
	}

	ch, subID, err := h.bus.SubscribeStream(events.TypeRunEventPrefix+id, 256)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	defer h.bus.Unsubscribe(subID)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case delivery, ok := <-ch:
			if !ok {
				return
			}
			if delivery.Lagged > 0 {
				fmt.Fprintf(w, "event: lagged\ndata: {\"count\":%d}\n\n", delivery.Lagged)
				flusher.Flush()
				continue
			}
			data, _ := json.Marshal(delivery.Event.Payload)
			fmt.Fprintf(w, "event: run_event\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
