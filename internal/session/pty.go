// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// ptyBacklog is the broadcast channel's frame capacity, per spec.md §4.K.
const ptyBacklog = 256

type ptyEntry struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	master  *os.File
	cmd     *exec.Cmd
	subs    map[chan []byte]struct{}
}

// ptyPool owns every PTY-backed terminal, keyed by session id, per
// spec.md §4.K's "PTY pool".
type ptyPool struct {
	mu      sync.Mutex
	entries map[string]*ptyEntry
}

func newPTYPool() *ptyPool {
	return &ptyPool{entries: make(map[string]*ptyEntry)}
}

func (p *ptyPool) get(sessionID string) (*ptyEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[sessionID]
	return entry, ok
}

// ensure starts (or returns the existing) PTY entry for sessionID,
// running binary with args.
func (p *ptyPool) ensure(sessionID, binary string, args []string, workingDir string) (*ptyEntry, error) {
	p.mu.Lock()
	entry, ok := p.entries[sessionID]
	if ok {
		p.mu.Unlock()
		entry.mu.Lock()
		running := entry.master != nil
		entry.mu.Unlock()
		if running {
			return entry, nil
		}
	} else {
		entry = &ptyEntry{subs: make(map[chan []byte]struct{})}
		p.entries[sessionID] = entry
		p.mu.Unlock()
	}

	cmd := exec.Command(binary, args...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("session: start pty: %w", err)
	}

	entry.mu.Lock()
	entry.master = master
	entry.cmd = cmd
	entry.mu.Unlock()

	go entry.readLoop()

	return entry, nil
}

// readLoop is the single persistent reader copying PTY master bytes into
// the broadcast channel set; it exits when the master closes (process
// exited).
func (e *ptyEntry) readLoop() {
	buf := make([]byte, 4096)
	for {
		e.mu.Lock()
		master := e.master
		e.mu.Unlock()
		if master == nil {
			return
		}
		n, err := master.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			e.fanOut(frame)
		}
		if err != nil {
			e.mu.Lock()
			e.master = nil
			e.cmd = nil
			e.mu.Unlock()
			return
		}
	}
}

// fanOut broadcasts frame to every subscriber, dropping it for any
// subscriber whose channel is full (spec.md §4.K names no lagged notice
// for the PTY pool, unlike the subprocess pool's line stream).
func (e *ptyEntry) fanOut(frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (e *ptyEntry) subscribe() chan []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan []byte, ptyBacklog)
	e.subs[ch] = struct{}{}
	return ch
}

func (e *ptyEntry) unsubscribe(ch chan []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
}

// write sends bytes to the PTY master, serialized by writeMu since the
// synchronous write is a single critical section (spec.md §5).
func (e *ptyEntry) write(data []byte) error {
	e.mu.Lock()
	master := e.master
	e.mu.Unlock()
	if master == nil {
		return fmt.Errorf("session: pty not running")
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := master.Write(data)
	return err
}

// resize changes the PTY window size.
func (e *ptyEntry) resize(cols, rows int) error {
	e.mu.Lock()
	master := e.master
	e.mu.Unlock()
	if master == nil {
		return fmt.Errorf("session: pty not running")
	}
	return pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (p *ptyPool) killProcess(sessionID string) {
	p.mu.Lock()
	entry, ok := p.entries[sessionID]
	p.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	cmd := entry.cmd
	entry.mu.Unlock()
	if cmd != nil {
		verifiedKill(cmd.Process)
	}
}

func (p *ptyPool) remove(sessionID string) {
	p.mu.Lock()
	entry, ok := p.entries[sessionID]
	delete(p.entries, sessionID)
	p.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	master := entry.master
	cmd := entry.cmd
	entry.master = nil
	entry.mu.Unlock()
	if master != nil {
		master.Close()
	}
	if cmd != nil {
		verifiedKill(cmd.Process)
	}
	entry.mu.Lock()
	for ch := range entry.subs {
		close(ch)
	}
	entry.subs = make(map[chan []byte]struct{})
	entry.mu.Unlock()
}
