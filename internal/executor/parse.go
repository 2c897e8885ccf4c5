// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"encoding/json"
	"strings"
)

// streamEvent is the subset of the CLI's NDJSON event shape the parser
// cares about, mirroring internal/claude/manager.go's StreamEvent.
type streamEvent struct {
	Type     string  `json:"type"`
	Result   string  `json:"result"`
	Cost     float64 `json:"total_cost_usd"`
	NumTurns uint64  `json:"num_turns"`
}

// parseOutput implements spec.md §4.G's shared parse procedure: split on
// newlines, attempt each non-empty trimmed line as a JSON object, and
// treat the "result" event as authoritative. If no result event is
// observed the raw captured output is returned with cost=0, turns=0 —
// tolerating terminal noise from the VM backend.
func parseOutput(raw string) Result {
	var lastResult *streamEvent
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Type == "result" {
			e := evt
			lastResult = &e
		}
	}

	if lastResult != nil {
		return Result{Text: lastResult.Result, CostUSD: lastResult.Cost, NumTurns: lastResult.NumTurns}
	}
	return Result{Text: raw}
}
