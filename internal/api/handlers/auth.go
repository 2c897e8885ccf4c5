// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"

	"github.com/saltyskip/cthulu/internal/auth"
	"github.com/saltyskip/cthulu/internal/domain"
)

// SessionStopper is the subset of *session.Manager a refresh-token sweep
// needs: kill every stale subprocess/PTY so the next send re-spawns with
// the new token.
type SessionStopper interface {
	StopAll() int
}

// VMInjector is the subset of *microvm.Backend a refresh-token sweep
// needs to re-write credentials into every leased VM's shell
// environment. It is nil when no microVM backend is configured.
type VMInjector interface {
	AllVMs() []domain.VmInfo
	InjectCredentials(ctx context.Context, vm domain.VmInfo, token, credentialsJSON string) error
}

// AuthHandler backs GET /api/auth/token-status and POST
// /api/auth/refresh-token, per spec.md §6 and
// original_source/cthulu-backend/api/auth/handlers.rs.
type AuthHandler struct {
	tokens   *auth.Store
	sessions SessionStopper
	vms      VMInjector
}

// NewAuthHandler creates an AuthHandler. vms may be nil when no microVM
// backend is configured.
func NewAuthHandler(tokens *auth.Store, sessions SessionStopper, vms VMInjector) *AuthHandler {
	return &AuthHandler{tokens: tokens, sessions: sessions, vms: vms}
}

// TokenStatus reports whether a token is currently loaded.
func (h *AuthHandler) TokenStatus(w http.ResponseWriter, r *http.Request) {
	_, ok := h.tokens.Token()
	WriteJSON(w, http.StatusOK, map[string]bool{"has_token": ok})
}

type refreshTokenResponse struct {
	OK              bool   `json:"ok"`
	Message         string `json:"message"`
	SessionsCleared int    `json:"sessions_cleared,omitempty"`
	VMsUpdated      int    `json:"vms_updated,omitempty"`
}

// RefreshToken re-reads the OAuth token from the Keychain/env, updates
// the in-memory store, kills every stale `claude` subprocess/PTY (so the
// next message spawns fresh under the new token), and re-injects the
// token into every leased VM's shell environment so scheduled runs pick
// it up too. Grounded on the Rust handler's exact three-step sequence:
// swap token, kill live processes, sweep VMs.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := auth.ReadOAuthToken()
	if token == "" {
		WriteJSON(w, http.StatusOK, refreshTokenResponse{
			OK:      false,
			Message: "No token found in Keychain or CLAUDE_CODE_OAUTH_TOKEN env. Run `claude` in your terminal to re-authenticate, then try again.",
		})
		return
	}
	h.tokens.Set(token)

	killed := 0
	if h.sessions != nil {
		killed = h.sessions.StopAll()
	}

	vmsUpdated := 0
	if h.vms != nil {
		credentials := auth.ReadFullCredentials()
		for _, vm := range h.vms.AllVMs() {
			if vm.WebTerminal == "" {
				continue
			}
			if err := h.vms.InjectCredentials(r.Context(), vm, token, credentials); err == nil {
				vmsUpdated++
			}
		}
	}

	WriteJSON(w, http.StatusOK, refreshTokenResponse{
		OK:              true,
		Message:         "Token refreshed.",
		SessionsCleared: killed,
		VMsUpdated:      vmsUpdated,
	})
}
