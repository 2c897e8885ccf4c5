// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/saltyskip/cthulu/internal/session"
)

// controlMessage is the one recognized JSON control frame a client can
// send instead of raw PTY bytes, per spec.md §4.K's WritePTY contract.
type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// TerminalHandler serves the PTY WebSocket surface spec.md §6 names as
// "GET /ws /api/agents/{id}/terminal?session_id=…", backed by
// internal/session.Manager's PTY pool.
//
// Grounded on the teacher's internal/api/handlers/terminal.go
// handleRemoteTerminal (gorilla/websocket upgrader, ping/pong keep-alive,
// a writeMu-serialized writer reading off a channel, a JSON control frame
// distinguishing resize from data) adapted from one tmux pane per HTTP
// connection to one session.Manager PTY entry shared by every connection
// addressing the same session id, since the PTY's actual lifecycle
// (spawn/resize/fan-out) now lives in internal/session rather than here.
type TerminalHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
}

// NewTerminalHandler creates a TerminalHandler.
func NewTerminalHandler(sessions *session.Manager) *TerminalHandler {
	return &TerminalHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades to a WebSocket, ensures the PTY backing flow_id/{id}/
// session_id, and bridges bytes both ways until either side closes, per
// spec.md §8 scenario 6 ("Terminal reconnect"): a second connection with
// the same session_id resumes the same PTY entry, which never restarts.
func (h *TerminalHandler) Connect(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"] // empty for the bare GET /ws route
	query := r.URL.Query()
	flowID := query.Get("flow_id")
	sessionID := query.Get("session_id")
	workingDir := query.Get("working_dir")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	resolved, err := h.sessions.EnsurePTY(flowID, nodeID, sessionID, workingDir, nil)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}

	outCh, unsubscribe, err := h.sessions.SubscribePTY(resolved)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer unsubscribe()

	done := make(chan struct{})
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Reader: client -> PTY. Only this goroutine's disconnect matters; the
	// PTY entry and any other subscriber connection keep running.
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				var ctrl controlMessage
				if err := json.Unmarshal(data, &ctrl); err == nil && ctrl.Type == "resize" {
					if err := h.sessions.ResizePTY(resolved, ctrl.Cols, ctrl.Rows); err != nil {
						log.Printf("terminal: resize %s: %v", resolved, err)
					}
					continue
				}
			}
			if err := h.sessions.WritePTY(resolved, data); err != nil {
				log.Printf("terminal: write %s: %v", resolved, err)
				return
			}
		}
	}()

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	// Writer: PTY -> client.
	for {
		select {
		case chunk, ok := <-outCh:
			if !ok {
				return
			}
			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-pingTicker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
