// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyskip/cthulu/internal/auth"
	"github.com/saltyskip/cthulu/internal/domain"
)

type fakeSessionStopper struct {
	stopped int
}

func (s *fakeSessionStopper) StopAll() int { return s.stopped }

type fakeVMInjector struct {
	vms     []domain.VmInfo
	injected []string
	err     error
}

func (v *fakeVMInjector) AllVMs() []domain.VmInfo { return v.vms }
func (v *fakeVMInjector) InjectCredentials(ctx context.Context, vm domain.VmInfo, token, credentialsJSON string) error {
	v.injected = append(v.injected, vm.VmID)
	return v.err
}

func TestAuthHandler_TokenStatus_ReportsPresence(t *testing.T) {
	h := NewAuthHandler(auth.NewStore("a-token"), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/token-status", nil)
	rec := httptest.NewRecorder()
	h.TokenStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["has_token"])
}

func TestAuthHandler_TokenStatus_ReportsAbsence(t *testing.T) {
	h := NewAuthHandler(auth.NewStore(""), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/token-status", nil)
	rec := httptest.NewRecorder()
	h.TokenStatus(rec, req)

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["has_token"])
}

func TestAuthHandler_RefreshToken_NoSourceReportsNotOK(t *testing.T) {
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "")
	h := NewAuthHandler(auth.NewStore(""), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["ok"])
}

func TestAuthHandler_RefreshToken_SwapsTokenAndStopsSessions(t *testing.T) {
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "fresh-token")
	store := auth.NewStore("")
	stopper := &fakeSessionStopper{stopped: 3}
	h := NewAuthHandler(store, stopper, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	tok, ok := store.Token()
	require.True(t, ok)
	assert.Equal(t, "fresh-token", tok)

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["ok"])
	assert.EqualValues(t, 3, data["sessions_cleared"])
}

func TestAuthHandler_RefreshToken_SkipsVMsWithoutWebTerminal(t *testing.T) {
	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "fresh-token")
	injector := &fakeVMInjector{vms: []domain.VmInfo{{VmID: "1", WebTerminal: ""}, {VmID: "2", WebTerminal: "ws://x"}}}
	h := NewAuthHandler(auth.NewStore(""), nil, injector)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2"}, injector.injected)
}
