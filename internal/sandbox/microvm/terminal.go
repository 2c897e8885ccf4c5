// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package microvm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// commandSentinel is appended to every command sent over the VM's
// terminal so the client can tell a long-running shell apart from a
// finished one without a side-channel exit-code frame.
const commandSentinel = "__cthulu_cmd_done__"

// VMTerminal runs commands inside one microVM over its ttyd-protocol web
// terminal WebSocket, one command per connection. It implements
// executor.VMTerminal structurally (no import needed — just matching
// RunCommand's signature).
//
// Grounded on internal/api/handlers/terminal.go's ping/pong keepalive
// and writeMu-serialized-write idiom, adapted from a server accepting
// connections to a client dialing out to the VM's web terminal.
type VMTerminal struct {
	WSURL       string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// NewVMTerminal creates a VMTerminal dialing wsURL with sane timeouts.
func NewVMTerminal(wsURL string) *VMTerminal {
	return &VMTerminal{WSURL: wsURL, DialTimeout: 10 * time.Second, ReadTimeout: 2 * time.Minute}
}

// RunCommand dials the VM's terminal, writes command followed by a
// sentinel echo, and returns everything written to the terminal up to
// (but excluding) the sentinel's own appearance.
func (t *VMTerminal) RunCommand(ctx context.Context, command string) (string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout()}
	conn, _, err := dialer.DialContext(ctx, t.WSURL, nil)
	if err != nil {
		return "", fmt.Errorf("microvm terminal: dial %s: %w", t.WSURL, err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.readTimeout()))
		return nil
	})

	full := command + "; echo " + commandSentinel + "\n"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(full)); err != nil {
		return "", fmt.Errorf("microvm terminal: write command: %w", err)
	}

	var transcript strings.Builder
	deadline := time.Now().Add(t.readTimeout())
	for {
		if ctx.Err() != nil {
			return transcript.String(), ctx.Err()
		}
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return transcript.String(), fmt.Errorf("microvm terminal: read: %w", err)
		}
		transcript.Write(data)
		if idx := strings.Index(transcript.String(), commandSentinel); idx >= 0 {
			return transcript.String()[:idx], nil
		}
	}
}

func (t *VMTerminal) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return 10 * time.Second
}

func (t *VMTerminal) readTimeout() time.Duration {
	if t.ReadTimeout > 0 {
		return t.ReadTimeout
	}
	return 2 * time.Minute
}
