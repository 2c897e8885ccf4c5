// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package microvm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeaseStore struct {
	mu     sync.Mutex
	leases map[string]domain.VmLease
}

func newFakeLeaseStore() *fakeLeaseStore {
	return &fakeLeaseStore{leases: make(map[string]domain.VmLease)}
}

func (s *fakeLeaseStore) GetLease(flowID, nodeID string) (domain.VmLease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[flowID+"/"+nodeID]
	return l, ok
}

func (s *fakeLeaseStore) PutLease(lease domain.VmLease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[lease.FlowID+"/"+lease.NodeID] = lease
}

func (s *fakeLeaseStore) DeleteLease(flowID, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, flowID+"/"+nodeID)
}

func TestBackend_GetOrCreateVM_CreatesOnFirstCall(t *testing.T) {
	var createCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		createCalls++
		json.NewEncoder(w).Encode(vmResponse{VmID: 1, Tier: "standard"})
	}))
	defer server.Close()

	backend := NewBackend(NewClient(server.URL, nil), newFakeLeaseStore())
	vm, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "")
	require.NoError(t, err)
	assert.Equal(t, "1", vm.VmID)
	assert.Equal(t, 1, createCalls)
}

func TestBackend_GetOrCreateVM_MemoryHitSkipsControlPlane(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(vmResponse{VmID: 5})
	}))
	defer server.Close()

	backend := NewBackend(NewClient(server.URL, nil), newFakeLeaseStore())
	_, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "")
	require.NoError(t, err)
	_, err = backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackend_GetOrCreateVM_AdoptsPersistedVMIDWhenAlive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(vmResponse{VmID: 99})
	}))
	defer server.Close()

	backend := NewBackend(NewClient(server.URL, nil), newFakeLeaseStore())
	vm, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "", "", "99")
	require.NoError(t, err)
	assert.Equal(t, "99", vm.VmID)
}

func TestBackend_GetOrCreateVM_PersistedVMID404FallsThroughToCreate(t *testing.T) {
	var getCalled, createCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			getCalled = true
			w.WriteHeader(http.StatusNotFound)
			return
		}
		createCalled = true
		json.NewEncoder(w).Encode(vmResponse{VmID: 7})
	}))
	defer server.Close()

	backend := NewBackend(NewClient(server.URL, nil), newFakeLeaseStore())
	vm, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "stale-id")
	require.NoError(t, err)
	assert.True(t, getCalled)
	assert.True(t, createCalled)
	assert.Equal(t, "7", vm.VmID)
}

func TestBackend_GetNodeVM_MemoryOnlyLookup(t *testing.T) {
	backend := NewBackend(NewClient("http://unused", nil), newFakeLeaseStore())
	_, ok := backend.GetNodeVM("f1", "n1")
	assert.False(t, ok)
}

func TestBackend_DestroyNodeVM_IsIdempotentOnSecondCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(vmResponse{VmID: 3})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	store := newFakeLeaseStore()
	backend := NewBackend(NewClient(server.URL, nil), store)
	_, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "")
	require.NoError(t, err)

	require.NoError(t, backend.DestroyNodeVM(context.Background(), "f1", "n1"))
	require.NoError(t, backend.DestroyNodeVM(context.Background(), "f1", "n1"))

	_, ok := store.GetLease("f1", "n1")
	assert.False(t, ok)
}

func TestBackend_RestoreNodeVM_PurgesLeaseOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := newFakeLeaseStore()
	store.PutLease(domain.VmLease{FlowID: "f1", NodeID: "n1", VmID: "stale"})
	backend := NewBackend(NewClient(server.URL, nil), store)

	_, err := backend.RestoreNodeVM(context.Background(), "f1", "n1", "stale")
	assert.Error(t, err)
	_, ok := store.GetLease("f1", "n1")
	assert.False(t, ok)
}

func TestBackend_AllVMs_ReturnsEveryLeasedVM(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(vmResponse{VmID: uint32(calls)})
	}))
	defer server.Close()

	backend := NewBackend(NewClient(server.URL, nil), newFakeLeaseStore())
	_, err := backend.GetOrCreateVM(context.Background(), "f1", "n1", "standard", "key", "")
	require.NoError(t, err)
	_, err = backend.GetOrCreateVM(context.Background(), "f2", "n2", "standard", "key", "")
	require.NoError(t, err)

	all := backend.AllVMs()
	assert.Len(t, all, 2)
}

func TestBackend_AllVMs_EmptyWhenNoLeases(t *testing.T) {
	backend := NewBackend(NewClient("http://unused", nil), newFakeLeaseStore())
	assert.Empty(t, backend.AllVMs())
}

func TestBackend_InjectCredentials_WritesTokenAndCredentials(t *testing.T) {
	var commands []string
	var mu sync.Mutex
	server := newCommandCapturingServer(t, &mu, &commands)
	defer server.Close()

	backend := NewBackend(NewClient("http://unused", nil), newFakeLeaseStore())
	vm := domain.VmInfo{VmID: "1", WebTerminal: "ws" + strings.TrimPrefix(server.URL, "http")}

	err := backend.InjectCredentials(context.Background(), vm, "new-token", `{"some":"creds"}`)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commands, 2)
	assert.Contains(t, commands[0], "CLAUDE_CODE_OAUTH_TOKEN=new-token")
	assert.Contains(t, commands[1], ".credentials.json")
}

func TestBackend_InjectCredentials_SkipsCredentialsWriteWhenBlank(t *testing.T) {
	var commands []string
	var mu sync.Mutex
	server := newCommandCapturingServer(t, &mu, &commands)
	defer server.Close()

	backend := NewBackend(NewClient("http://unused", nil), newFakeLeaseStore())
	vm := domain.VmInfo{VmID: "1", WebTerminal: "ws" + strings.TrimPrefix(server.URL, "http")}

	err := backend.InjectCredentials(context.Background(), vm, "new-token", "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commands, 1)
}

// newCommandCapturingServer is a ttyd-like test server that records each
// command frame it receives and replies with just the sentinel, so
// InjectCredentials' sequence of RunCommand calls can be asserted against.
func newCommandCapturingServer(t *testing.T, mu *sync.Mutex, commands *[]string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			*commands = append(*commands, string(data))
			mu.Unlock()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(commandSentinel+"\n")); err != nil {
				return
			}
		}
	}))
}
