// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/events"
)

type fakeFlowStore struct {
	flows map[string]domain.Flow
}

func newFakeFlowStore() *fakeFlowStore { return &fakeFlowStore{flows: make(map[string]domain.Flow)} }

func (s *fakeFlowStore) List() []domain.Flow {
	out := make([]domain.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	return out
}
func (s *fakeFlowStore) Get(id string) (domain.Flow, bool) { f, ok := s.flows[id]; return f, ok }
func (s *fakeFlowStore) Save(value domain.Flow) error      { s.flows[value.ID] = value; return nil }
func (s *fakeFlowStore) Delete(id string) (bool, error) {
	if _, ok := s.flows[id]; !ok {
		return false, nil
	}
	delete(s.flows, id)
	return true, nil
}

type fakeRunner struct {
	err  error
	runs []string
}

func (r *fakeRunner) Run(ctx context.Context, flow domain.Flow) error {
	r.runs = append(r.runs, flow.ID)
	return r.err
}

type fakeHistory struct {
	runs map[string][]domain.FlowRun
}

func (h *fakeHistory) GetRuns(flowID string) []domain.FlowRun { return h.runs[flowID] }

func newFlowTestRouter(h *FlowHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/flows/{id}/trigger", h.Trigger).Methods(http.MethodPost)
	r.HandleFunc("/flows/{id}/runs", h.Runs).Methods(http.MethodGet)
	return r
}

func TestFlowHandler_Trigger_RunsKnownFlow(t *testing.T) {
	store := newFakeFlowStore()
	store.flows["f1"] = domain.Flow{ID: "f1"}
	runner := &fakeRunner{}
	h := NewFlowHandler(store, nil, runner, &fakeHistory{})
	router := newFlowTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/flows/f1/trigger", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"f1"}, runner.runs)
}

func TestFlowHandler_Trigger_UnknownFlowReturns404(t *testing.T) {
	h := NewFlowHandler(newFakeFlowStore(), nil, &fakeRunner{}, &fakeHistory{})
	router := newFlowTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/flows/missing/trigger", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowHandler_Trigger_RunnerErrorReturns400(t *testing.T) {
	store := newFakeFlowStore()
	store.flows["f1"] = domain.Flow{ID: "f1"}
	runner := &fakeRunner{err: errors.New("boom")}
	h := NewFlowHandler(store, nil, runner, &fakeHistory{})
	router := newFlowTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/flows/f1/trigger", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlowHandler_Runs_UnknownFlowReturns404(t *testing.T) {
	h := NewFlowHandler(newFakeFlowStore(), nil, &fakeRunner{}, &fakeHistory{})
	router := newFlowTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/flows/missing/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlowHandler_Runs_ReturnsHistoryForFlow(t *testing.T) {
	store := newFakeFlowStore()
	store.flows["f1"] = domain.Flow{ID: "f1"}
	hist := &fakeHistory{runs: map[string][]domain.FlowRun{"f1": {{ID: "r1", FlowID: "f1"}}}}
	h := NewFlowHandler(store, nil, &fakeRunner{}, hist)
	router := newFlowTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/flows/f1/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, data, 1)
}

func TestFlowHandler_RunsLive_SendsRunEventThenClosesOnContextCancel(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 10, HistoryMaxAge: time.Minute})
	defer bus.Close()
	store := newFakeFlowStore()
	store.flows["f1"] = domain.Flow{ID: "f1"}
	h := NewFlowHandler(store, bus, &fakeRunner{}, &fakeHistory{})
	router := newFlowTestRouter(h)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/flows/f1/runs/live", nil).WithContext(ctx)
	req = mux.SetURLVars(req, map[string]string{"id": "f1"})
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.RunsLive(rec, req)
		close(done)
	}()

	// give the handler time to subscribe before publishing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), events.Event{
		Type:    events.TypeRunEventPrefix + "f1",
		Payload: map[string]string{"status": "running"},
	}))
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunsLive did not return after context cancellation")
	}

	assert.Contains(t, rec.Body.String(), "event: run_event")
}
