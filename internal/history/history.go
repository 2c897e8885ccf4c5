// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package history implements the Run History (spec component D): a
// mapping from flow-id to a bounded ordered sequence of FlowRun records,
// capped at 100 (original_source/cthulu-backend/flows/history.rs's
// MAX_RUNS_PER_FLOW), purely in-memory.
package history

import (
	"sort"
	"sync"

	"github.com/saltyskip/cthulu/internal/domain"
)

// MaxRunsPerFlow is the retention cap per flow; oldest evicted first.
const MaxRunsPerFlow = 100

// RunHistory is a keyed, bounded, in-memory store of FlowRun records.
type RunHistory struct {
	mu   sync.RWMutex
	runs map[string][]domain.FlowRun
}

// New creates an empty RunHistory.
func New() *RunHistory {
	return &RunHistory{runs: make(map[string][]domain.FlowRun)}
}

// AddRun appends a run, evicting the oldest run for that flow if the cap
// is exceeded.
func (h *RunHistory) AddRun(run domain.FlowRun) {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs := append(h.runs[run.FlowID], run)
	if len(runs) > MaxRunsPerFlow {
		runs = runs[len(runs)-MaxRunsPerFlow:]
	}
	h.runs[run.FlowID] = runs
}

// UpdateRun applies fn to the run with the given id within flowID, under
// the write lock, and returns whether a matching run was found.
func (h *RunHistory) UpdateRun(flowID, runID string, fn func(*domain.FlowRun)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs := h.runs[flowID]
	for i := range runs {
		if runs[i].ID == runID {
			fn(&runs[i])
			return true
		}
	}
	return false
}

// GetRuns returns a clone of flowID's runs, newest-first.
func (h *RunHistory) GetRuns(flowID string) []domain.FlowRun {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.runs[flowID]
	out := make([]domain.FlowRun, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
