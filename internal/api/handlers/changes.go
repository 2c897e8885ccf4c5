// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/saltyskip/cthulu/internal/events"
)

// ChangeHandler streams ResourceChangeEvent over GET /api/changes, per
// spec.md §6 and §8 scenario 2/3 (external edit / watcher-loop
// suppression): every flow/agent/prompt mutation, whether it came from
// the HTTP API or the file watcher noticing an external edit, is
// published to the same bus and observed here.
type ChangeHandler struct {
	bus events.EventBus
}

// NewChangeHandler creates a ChangeHandler.
func NewChangeHandler(bus events.EventBus) *ChangeHandler {
	return &ChangeHandler{bus: bus}
}

// Live streams resource_change events as server-sent events.
func (h *ChangeHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "streaming not supported")
		return
	}

	ch, subID, err := h.bus.SubscribeStream(events.TypeResourceChange, 256)
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
			fmt.Fprintf(w, "event: resource_change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
