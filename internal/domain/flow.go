// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package domain holds the wire/storage types shared by every core
// component: flows, their nodes and edges, agents, saved prompts, run
// records, and the event types published on the change bus and the
// run-event stream.
package domain

import "time"

// NodeType discriminates the role a Node plays within a Flow.
type NodeType string

const (
	NodeTrigger  NodeType = "trigger"
	NodeSource   NodeType = "source"
	NodeExecutor NodeType = "executor"
	NodeSink     NodeType = "sink"
)

// Position is a free-form 2-D coordinate used by the flow editor UI.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a typed vertex in a Flow's graph. The yaml tags let
// internal/importer parse the same field names a Flow round-trips as
// JSON, rather than yaml.v3's default lowercased-no-underscore names.
type Node struct {
	ID       string                 `json:"id" yaml:"id"`
	NodeType NodeType               `json:"node_type" yaml:"node_type"`
	Kind     string                 `json:"kind" yaml:"kind"`
	Config   map[string]interface{} `json:"config" yaml:"config,omitempty"`
	Position Position               `json:"position" yaml:"position,omitempty"`
	Label    string                 `json:"label" yaml:"label,omitempty"`
}

// Edge is a directed dependency between two nodes in a Flow.
type Edge struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Flow is a user-defined DAG of nodes and edges describing an automated
// job. The file stem in the resource store must equal ID.
type Flow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	Version     uint64    `json:"version"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TriggerNode returns the flow's trigger node, if any.
func (f *Flow) TriggerNode() (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].NodeType == NodeTrigger {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// ResourceID implements store.Identifiable.
func (f Flow) ResourceID() string { return f.ID }

// NodeByID returns the node with the given id, if any.
func (f *Flow) NodeByID(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}
