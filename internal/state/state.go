// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package state implements Process State persistence (spec component M):
// a single sessions.yaml file holding every flow's FlowSessions bag plus
// the (flow_id, node_id) -> vm_id lease map, read once at startup and
// saved atomically on every mutation.
//
// Grounded on original_source/cthulu-backend/flows/session_bridge.rs
// (sessions.yaml as the persistence path, a RwLock<HashMap<String,
// FlowSessions>> cache plus a separate VM mapping map saved alongside it)
// and internal/store/store.go's atomic temp-then-rename save algorithm,
// applied to one YAML document instead of one JSON file per resource.
package state

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/saltyskip/cthulu/internal/domain"
)

// document is the on-disk shape of sessions.yaml.
type document struct {
	Sessions map[string]domain.FlowSessions `yaml:"sessions"`
	Leases   map[string]domain.VmLease      `yaml:"leases"`
}

func leaseKey(flowID, nodeID string) string { return flowID + "/" + nodeID }

// Store is the durable backing for internal/session's PersistStore and
// internal/sandbox/microvm's LeaseStore, both satisfied by this one type
// so a restart recovers both session bags and VM leases from one file.
type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open reads path if it exists (a missing file starts from an empty
// document, matching store.LoadAll's "not found is not an error"
// behavior) and clears every session's ActivePID, per spec.md's
// "active_pid is cleared on boot" invariant: a PID from a previous
// process's lifetime can never be mistaken for a still-running one.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: document{
		Sessions: make(map[string]domain.FlowSessions),
		Leases:   make(map[string]domain.VmLease),
	}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]domain.FlowSessions)
	}
	if doc.Leases == nil {
		doc.Leases = make(map[string]domain.VmLease)
	}

	for flowID, bag := range doc.Sessions {
		for i := range bag.Sessions {
			bag.Sessions[i].ActivePID = nil
		}
		doc.Sessions[flowID] = bag
	}

	s.doc = doc
	return s, nil
}

// save serializes the document and writes it via the tmp-then-rename
// pattern store.Store[T].Save uses, so a crash mid-write never leaves
// sessions.yaml truncated or half-written.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: ensure dir: %w", err)
	}
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("state: write tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

// GetFlowSessions implements session.PersistStore.
func (s *Store) GetFlowSessions(flowID string) domain.FlowSessions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Sessions[flowID]
}

// PutSession implements session.PersistStore: it upserts sess into
// flowID's bag by SessionID and persists the whole document.
func (s *Store) PutSession(flowID string, sess domain.InteractSession) {
	s.mu.Lock()
	bag := s.doc.Sessions[flowID]
	replaced := false
	for i, existing := range bag.Sessions {
		if existing.SessionID == sess.SessionID {
			bag.Sessions[i] = sess
			replaced = true
			break
		}
	}
	if !replaced {
		bag.Sessions = append(bag.Sessions, sess)
	}
	s.doc.Sessions[flowID] = bag
	s.mu.Unlock()

	s.persist()
}

// SetActiveSession implements session.PersistStore.
func (s *Store) SetActiveSession(flowID, sessionID string) {
	s.mu.Lock()
	bag := s.doc.Sessions[flowID]
	bag.ActiveSession = sessionID
	s.doc.Sessions[flowID] = bag
	s.mu.Unlock()

	s.persist()
}

// DeleteSession implements session.PersistStore.
func (s *Store) DeleteSession(flowID, sessionID string) {
	s.mu.Lock()
	bag := s.doc.Sessions[flowID]
	for i, existing := range bag.Sessions {
		if existing.SessionID == sessionID {
			bag.Sessions = append(bag.Sessions[:i], bag.Sessions[i+1:]...)
			break
		}
	}
	if bag.ActiveSession == sessionID {
		bag.ActiveSession = ""
	}
	s.doc.Sessions[flowID] = bag
	s.mu.Unlock()

	s.persist()
}

// GetLease implements microvm.LeaseStore.
func (s *Store) GetLease(flowID, nodeID string) (domain.VmLease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.doc.Leases[leaseKey(flowID, nodeID)]
	return lease, ok
}

// PutLease implements microvm.LeaseStore.
func (s *Store) PutLease(lease domain.VmLease) {
	s.mu.Lock()
	s.doc.Leases[leaseKey(lease.FlowID, lease.NodeID)] = lease
	s.mu.Unlock()

	s.persist()
}

// DeleteLease implements microvm.LeaseStore.
func (s *Store) DeleteLease(flowID, nodeID string) {
	s.mu.Lock()
	delete(s.doc.Leases, leaseKey(flowID, nodeID))
	s.mu.Unlock()

	s.persist()
}

// persist saves and swallows the error into a log line: every call site
// in internal/session and internal/sandbox/microvm treats persistence as
// best-effort (the in-memory pools remain authoritative for the life of
// the process), matching the teacher's store.Save error-surfacing
// convention of returning errors from direct API calls but not from
// background housekeeping.
func (s *Store) persist() {
	if err := s.save(); err != nil {
		log.Printf("state: save %s: %v", s.path, err)
	}
}
