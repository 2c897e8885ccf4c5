// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"github.com/google/uuid"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
)

// AgentHandler is the CRUD surface spec.md §6 calls "analogous" to
// flows, for domain.Agent.
type AgentHandler struct {
	*ResourceHandler[domain.Agent]
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(agents ResourceStore[domain.Agent], bus events.EventBus) *AgentHandler {
	assign := func(a domain.Agent) domain.Agent {
		a.ID = uuid.New().String()
		return a
	}
	withID := func(body domain.Agent, id string) domain.Agent {
		body.ID = id
		return body
	}
	return &AgentHandler{NewResourceHandler(agents, bus, domain.ResourceAgent, assign, withID)}
}
