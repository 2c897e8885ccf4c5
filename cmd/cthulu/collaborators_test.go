// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyskip/cthulu/internal/domain"
)

func TestHTTPSourceResolver_Resolve_ReturnsTrimmedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  hello world  \n"))
	}))
	defer server.Close()

	s := newHTTPSourceResolver()
	flow := domain.Flow{ID: "f1"}
	node := domain.Node{ID: "n1", Config: map[string]interface{}{"url": server.URL}}

	out, err := s.Resolve(context.Background(), flow, node)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestHTTPSourceResolver_Resolve_NoURLErrors(t *testing.T) {
	s := newHTTPSourceResolver()
	_, err := s.Resolve(context.Background(), domain.Flow{}, domain.Node{ID: "n1"})
	assert.Error(t, err)
}

func TestHTTPSourceResolver_Resolve_ErrorStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newHTTPSourceResolver()
	node := domain.Node{ID: "n1", Config: map[string]interface{}{"url": server.URL}}
	_, err := s.Resolve(context.Background(), domain.Flow{}, node)
	assert.Error(t, err)
}

func TestHTTPSinkDispatcher_Dispatch_PostsText(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		assert.Equal(t, "text/plain; charset=utf-8", r.Header.Get("Content-Type"))
	}))
	defer server.Close()

	s := newHTTPSinkDispatcher()
	node := domain.Node{ID: "n1", Config: map[string]interface{}{"url": server.URL}}
	err := s.Dispatch(context.Background(), domain.Flow{}, node, "result text")
	require.NoError(t, err)
	assert.Equal(t, "result text", received)
}

func TestHTTPSinkDispatcher_Dispatch_NoURLErrors(t *testing.T) {
	s := newHTTPSinkDispatcher()
	err := s.Dispatch(context.Background(), domain.Flow{}, domain.Node{ID: "n1"}, "x")
	assert.Error(t, err)
}

func TestHTTPSinkDispatcher_Dispatch_ErrorStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := newHTTPSinkDispatcher()
	node := domain.Node{ID: "n1", Config: map[string]interface{}{"url": server.URL}}
	err := s.Dispatch(context.Background(), domain.Flow{}, node, "x")
	assert.Error(t, err)
}
