// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyskip/cthulu/internal/domain"
)

type fakeActiveFlowLister struct {
	ids []string
}

func (f *fakeActiveFlowLister) ActiveFlowIDs() []string { return f.ids }

func newSchedulerTestRouter(h *SchedulerHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/scheduler/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/flows/{id}/schedule", h.Schedule).Methods(http.MethodGet)
	r.HandleFunc("/validate/cron", h.ValidateCron).Methods(http.MethodPost)
	return r
}

func TestSchedulerHandler_Status_ReturnsActiveFlowIDs(t *testing.T) {
	h := NewSchedulerHandler(&fakeActiveFlowLister{ids: []string{"f1", "f2"}}, newFakeFlowStore())
	router := newSchedulerTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/scheduler/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	ids, ok := data["active_flow_ids"].([]interface{})
	require.True(t, ok)
	assert.Len(t, ids, 2)
}

func TestSchedulerHandler_Schedule_UnknownFlowReturns404(t *testing.T) {
	h := NewSchedulerHandler(&fakeActiveFlowLister{}, newFakeFlowStore())
	router := newSchedulerTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/flows/missing/schedule", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerHandler_Schedule_ReportsActiveAndCronConfig(t *testing.T) {
	store := newFakeFlowStore()
	store.flows["f1"] = domain.Flow{
		ID: "f1",
		Nodes: []domain.Node{
			{ID: "n1", NodeType: domain.NodeTrigger, Kind: "cron", Config: map[string]interface{}{"schedule": "* * * * *"}},
		},
	}
	h := NewSchedulerHandler(&fakeActiveFlowLister{ids: []string{"f1"}}, store)
	router := newSchedulerTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/flows/f1/schedule", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["active"])
	assert.Equal(t, "cron", data["kind"])
	assert.Equal(t, "* * * * *", data["schedule"])
}

func TestSchedulerHandler_ValidateCron_ValidExpressionReturnsFireTimes(t *testing.T) {
	h := NewSchedulerHandler(&fakeActiveFlowLister{}, newFakeFlowStore())
	router := newSchedulerTestRouter(h)

	body, _ := json.Marshal(cronValidateRequest{Expression: "0 * * * *"})
	req := httptest.NewRequest(http.MethodPost, "/validate/cron", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	fires, ok := data["next_fires"].([]interface{})
	require.True(t, ok)
	assert.Len(t, fires, 5)
}

func TestSchedulerHandler_ValidateCron_InvalidExpressionReturns200WithValidFalse(t *testing.T) {
	h := NewSchedulerHandler(&fakeActiveFlowLister{}, newFakeFlowStore())
	router := newSchedulerTestRouter(h)

	body, _ := json.Marshal(cronValidateRequest{Expression: "not a cron expression"})
	req := httptest.NewRequest(http.MethodPost, "/validate/cron", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["valid"])
	assert.NotEmpty(t, data["error"])
}

func TestSchedulerHandler_ValidateCron_MalformedJSONReturns400(t *testing.T) {
	h := NewSchedulerHandler(&fakeActiveFlowLister{}, newFakeFlowStore())
	router := newSchedulerTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/validate/cron", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
