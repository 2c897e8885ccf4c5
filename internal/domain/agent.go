// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// Agent is a reusable "what to do" definition consumed by executor nodes.
type Agent struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Prompt             string   `json:"prompt"`
	Permissions        []string `json:"permissions"`
	AppendSystemPrompt *string  `json:"append_system_prompt,omitempty"`
	WorkingDir         *string  `json:"working_dir,omitempty"`
}

// ResourceID implements store.Identifiable.
func (a Agent) ResourceID() string { return a.ID }

// SavedPrompt is a captured prompt worth reusing across flows.
type SavedPrompt struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	SourceFlowName string    `json:"source_flow_name"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
}

// ResourceID implements store.Identifiable.
func (p SavedPrompt) ResourceID() string { return p.ID }
