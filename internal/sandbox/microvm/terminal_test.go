// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package microvm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// newEchoServer starts a ttyd-like test server that, upon reading one
// text frame (the command), writes back a fixed transcript followed by
// the sentinel, mimicking a shell that echoes its own sentinel.
func newEchoServer(t *testing.T, transcript string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, err = conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(transcript+commandSentinel+"\n"))
	}))
}

func TestVMTerminal_RunCommand_ReturnsTranscriptBeforeSentinel(t *testing.T) {
	server := newEchoServer(t, "hello from the vm\n")
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	terminal := NewVMTerminal(wsURL)
	terminal.ReadTimeout = 5 * time.Second

	out, err := terminal.RunCommand(context.Background(), "echo hi")
	require.NoError(t, err)
	require.Equal(t, "hello from the vm\n", out)
}

func TestVMTerminal_RunCommand_DialFailureReturnsError(t *testing.T) {
	terminal := NewVMTerminal("ws://127.0.0.1:1/does-not-exist")
	terminal.DialTimeout = 200 * time.Millisecond
	_, err := terminal.RunCommand(context.Background(), "echo hi")
	require.Error(t, err)
}
