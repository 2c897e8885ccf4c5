// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements the Interactive Session Manager (spec
// component K): two parallel pools — a long-lived `claude` CLI subprocess
// pool and a PTY pool — both keyed by a globally unique session id, with
// multi-client broadcast fan-out and reconnect-by-resubscribe semantics.
//
// Grounded on internal/claude/manager.go (Session/Manager: one reader
// goroutine per process, Subscribe/Unsubscribe/fanOut, the busy flag, the
// exact claude CLI flag construction in ensureProcess) and
// internal/api/handlers/terminal.go's handleRemoteTerminal (pty.Start,
// pty.Setsize, the PTY master read/write loop), generalized from the
// teacher's one-entry-per-HTTP-connection model into a pool whose reader
// goroutines are independent of any one connection and outlive disconnects
// (spec.md §4.K, §8 scenario "Terminal reconnect").
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saltyskip/cthulu/internal/domain"
)

// PersistStore is the seam into internal/state for durable session
// records, mirroring internal/sandbox/microvm's LeaseStore decoupling:
// this package never imports the concrete YAML-backed store.
type PersistStore interface {
	GetFlowSessions(flowID string) domain.FlowSessions
	PutSession(flowID string, sess domain.InteractSession)
	SetActiveSession(flowID, sessionID string)
	DeleteSession(flowID, sessionID string)
}

// Manager owns the subprocess pool and the PTY pool and resolves the
// "flow's active session if no id is given" lookup spec.md §4.K
// describes, persisting session metadata (not processes) through store.
type Manager struct {
	store PersistStore

	mu       sync.Mutex
	sessions map[string]*sessionState // session id -> state

	subprocesses *subprocessPool
	ptys         *ptyPool

	// binary is the CLI executable name; overridden in tests to exercise
	// the pool/broadcast machinery against a fake process.
	binary string
}

// sessionState is the in-memory record backing one InteractSession: which
// pool (if any) currently backs it, and the busy flag.
type sessionState struct {
	mu      sync.Mutex
	record  domain.InteractSession
	flowID  string
	busy    bool
	backing backingKind
}

type backingKind int

const (
	backingNone backingKind = iota
	backingSubprocess
	backingPTY
)

// New creates a Manager. store may be nil to disable persistence (e.g. in
// tests exercising only the pool mechanics).
func New(store PersistStore) *Manager {
	return &Manager{
		store:        store,
		sessions:     make(map[string]*sessionState),
		subprocesses: newSubprocessPool(),
		ptys:         newPTYPool(),
		binary:       "claude",
	}
}

// Resolve implements spec.md §4.K's "resolves or creates a session id,
// reusing the flow's active session if no id is given". It does not spawn
// anything; it only settles on the session id callers address.
func (m *Manager) Resolve(flowID, nodeID, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	if m.store != nil {
		if bag := m.store.GetFlowSessions(flowID); bag.ActiveSession != "" {
			return bag.ActiveSession
		}
	}
	return uuid.New().String()
}

// state returns (creating if needed) the in-memory record for sessionID,
// recording it against flowID for persistence.
func (m *Manager) state(flowID, nodeID, sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if ok {
		return st
	}

	var nodePtr *string
	if nodeID != "" {
		nodePtr = &nodeID
	}
	st = &sessionState{
		flowID: flowID,
		record: domain.InteractSession{
			SessionID: sessionID,
			NodeID:    nodePtr,
			CreatedAt: time.Now(),
			Kind:      domain.SessionInteractive,
		},
	}
	m.sessions[sessionID] = st
	m.persist(st)
	if m.store != nil {
		m.store.SetActiveSession(flowID, sessionID)
	}
	return st
}

func (m *Manager) persist(st *sessionState) {
	if m.store == nil {
		return
	}
	st.mu.Lock()
	record := st.record
	record.Busy = st.busy
	flowID := st.flowID
	st.mu.Unlock()
	m.store.PutSession(flowID, record)
}

// Busy reports whether sessionID is currently processing a message.
func (m *Manager) Busy(sessionID string) bool {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.busy
}

func (m *Manager) setBusy(st *sessionState, busy bool) {
	st.mu.Lock()
	st.busy = busy
	st.mu.Unlock()
	m.persist(st)
}

// Stop kills the session's live subprocess (if any) and clears its busy
// flag, per spec.md §4.K's "stop" call. The PTY/subprocess entry itself
// is not torn down; a subsequent send re-spawns or resumes it.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}

	st.mu.Lock()
	backing := st.backing
	st.mu.Unlock()

	switch backing {
	case backingSubprocess:
		m.subprocesses.kill(sessionID)
	case backingPTY:
		m.ptys.killProcess(sessionID)
	}
	m.setBusy(st, false)
	return nil
}

// StopAll kills every session's live subprocess/PTY process and clears
// its busy flag, per spec.md §6's POST /api/auth/refresh-token: stale
// processes are authenticated with the expired token and must die so the
// next send spawns a fresh one. It returns the number of sessions
// touched.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
	return len(ids)
}

// Kill tears down the PTY (or subprocess) entry outright, per spec.md
// §4.K's "kill" call: the next connection starts a brand new entry.
func (m *Manager) Kill(sessionID string) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}

	m.subprocesses.remove(sessionID)
	m.ptys.remove(sessionID)
	if m.store != nil {
		m.store.DeleteSession(st.flowID, sessionID)
	}
	return nil
}

// EnsureSubprocess resolves and starts (if needed) the subprocess backing
// flowID/nodeID/sessionID, per spec.md §4.K's subprocess pool, and returns
// the session id callers should address from now on.
func (m *Manager) EnsureSubprocess(ctx context.Context, flowID, nodeID, sessionID, workingDir string, permissions []string) (string, error) {
	sessionID = m.Resolve(flowID, nodeID, sessionID)
	st := m.state(flowID, nodeID, sessionID)

	if _, err := m.subprocesses.ensure(ctx, m.binary, sessionID, workingDir, permissions); err != nil {
		return "", err
	}
	st.mu.Lock()
	st.backing = backingSubprocess
	st.mu.Unlock()
	return sessionID, nil
}

// SubscribeSubprocess registers a fan-out subscriber on sessionID's
// subprocess stdout; the returned func unsubscribes. Only the caller's own
// forward task aborts on disconnect — the process keeps running.
func (m *Manager) SubscribeSubprocess(sessionID string) (<-chan Delivery, func(), error) {
	entry, ok := m.subprocesses.get(sessionID)
	if !ok {
		return nil, nil, fmt.Errorf("session: no subprocess for %s", sessionID)
	}
	ch := entry.subscribe()
	return ch, func() { entry.unsubscribe(ch) }, nil
}

// SendSubprocess writes a message to sessionID's subprocess stdin and
// marks it busy; callers clear busy by calling Stop once the response
// completes (the caller observes completion via the stream).
func (m *Manager) SendSubprocess(sessionID string, data []byte) error {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", sessionID)
	}
	entry, ok := m.subprocesses.get(sessionID)
	if !ok {
		return fmt.Errorf("session: no subprocess for %s", sessionID)
	}
	m.setBusy(st, true)
	return entry.send(data)
}

// EnsurePTY resolves and starts (if needed) the PTY backing
// flowID/nodeID/sessionID per spec.md §4.K's PTY pool: spawn claude with
// --session-id for a brand new entry or --resume for one that already
// exists, plus an explicit --allowedTools when permissions are non-empty.
func (m *Manager) EnsurePTY(flowID, nodeID, sessionID, workingDir string, permissions []string) (string, error) {
	sessionID = m.Resolve(flowID, nodeID, sessionID)
	st := m.state(flowID, nodeID, sessionID)

	_, alreadyExists := m.ptys.get(sessionID)
	args := buildSessionArgs(sessionID, alreadyExists, permissions)

	if _, err := m.ptys.ensure(sessionID, m.binary, args, workingDir); err != nil {
		return "", err
	}
	st.mu.Lock()
	st.backing = backingPTY
	st.mu.Unlock()
	return sessionID, nil
}

// SubscribePTY registers a fan-out subscriber on sessionID's PTY output.
func (m *Manager) SubscribePTY(sessionID string) (<-chan []byte, func(), error) {
	entry, ok := m.ptys.get(sessionID)
	if !ok {
		return nil, nil, fmt.Errorf("session: no pty for %s", sessionID)
	}
	ch := entry.subscribe()
	return ch, func() { entry.unsubscribe(ch) }, nil
}

// WritePTY forwards a binary WebSocket frame to the PTY, per spec.md
// §4.K: everything that isn't a parsed {type:"resize"} control message is
// written as raw bytes.
func (m *Manager) WritePTY(sessionID string, data []byte) error {
	entry, ok := m.ptys.get(sessionID)
	if !ok {
		return fmt.Errorf("session: no pty for %s", sessionID)
	}
	return entry.write(data)
}

// ResizePTY resizes sessionID's PTY master in response to a parsed
// {type:"resize",cols,rows} control frame.
func (m *Manager) ResizePTY(sessionID string, cols, rows int) error {
	entry, ok := m.ptys.get(sessionID)
	if !ok {
		return fmt.Errorf("session: no pty for %s", sessionID)
	}
	return entry.resize(cols, rows)
}

// Info returns the persisted-shape summary of a session, if known.
func (m *Manager) Info(sessionID string) (domain.InteractSession, bool) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return domain.InteractSession{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	record := st.record
	record.Busy = st.busy
	return record, true
}
