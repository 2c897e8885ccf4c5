// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
)

// PromptHandler is the CRUD surface spec.md §6 calls "analogous" to
// flows, for domain.SavedPrompt.
type PromptHandler struct {
	*ResourceHandler[domain.SavedPrompt]
}

// NewPromptHandler creates a PromptHandler.
func NewPromptHandler(prompts ResourceStore[domain.SavedPrompt], bus events.EventBus) *PromptHandler {
	assign := func(p domain.SavedPrompt) domain.SavedPrompt {
		p.ID = uuid.New().String()
		p.CreatedAt = time.Now()
		return p
	}
	withID := func(body domain.SavedPrompt, id string) domain.SavedPrompt {
		body.ID = id
		return body
	}
	return &PromptHandler{NewResourceHandler(prompts, bus, domain.ResourcePrompt, assign, withID)}
}
