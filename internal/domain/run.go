// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// RunStatus is the terminal or in-progress status of a FlowRun or NodeRun.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// NodeRun records one node's execution within a FlowRun.
type NodeRun struct {
	NodeID        string     `json:"node_id"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	OutputPreview *string    `json:"output_preview,omitempty"`
	Output        string     `json:"-"`
	CostUSD       float64    `json:"cost_usd,omitempty"`
	NumTurns      uint64     `json:"num_turns,omitempty"`
}

// OutputPreviewLen is the number of characters of a node's textual output
// retained for UI listings.
const OutputPreviewLen = 200

// FlowRun is a single execution attempt of a Flow. Immutable once a
// terminal status is set.
type FlowRun struct {
	ID         string     `json:"id"`
	FlowID     string     `json:"flow_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	NodeRuns   []NodeRun  `json:"node_runs"`
	Error      *string    `json:"error,omitempty"`
}

// ResourceType names the kind of resource a ResourceChangeEvent describes.
type ResourceType string

const (
	ResourceFlow   ResourceType = "flow"
	ResourceAgent  ResourceType = "agent"
	ResourcePrompt ResourceType = "prompt"
)

// ChangeType names the mutation a ResourceChangeEvent describes.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ResourceChangeEvent is published whenever a flow/agent/prompt is
// created, updated, or deleted, whether by the HTTP API or by an
// external edit observed through the file watcher.
type ResourceChangeEvent struct {
	ResourceType ResourceType `json:"resource_type"`
	ChangeType   ChangeType   `json:"change_type"`
	ResourceID   string       `json:"resource_id"`
	Timestamp    time.Time    `json:"timestamp"`
}

// RunEventType names the variant of a RunEvent.
type RunEventType string

const (
	EventRunStarted     RunEventType = "run_started"
	EventNodeStarted    RunEventType = "node_started"
	EventNodeCompleted  RunEventType = "node_completed"
	EventNodeFailed     RunEventType = "node_failed"
	EventRunCompleted   RunEventType = "run_completed"
	EventRunFailed      RunEventType = "run_failed"
	EventLog            RunEventType = "log"
)

// RunEvent is delivered over the run-specific server-sent event stream.
type RunEvent struct {
	FlowID    string       `json:"flow_id"`
	RunID     string       `json:"run_id"`
	Timestamp time.Time    `json:"timestamp"`
	NodeID    *string      `json:"node_id,omitempty"`
	EventType RunEventType `json:"event_type"`
	Message   string       `json:"message"`
}
