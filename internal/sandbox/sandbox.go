// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sandbox defines the Sandbox Abstraction (spec component H): a
// capability-typed Provider+Handle model that the host-jail
// (internal/sandbox/hostjail) and microVM (internal/sandbox/microvm)
// backends implement, plus the distinguished Unsupported error every
// backend returns for an operation its capabilities don't advertise.
//
// Grounded on original_source/cthulu-backend/sandbox/{provider.rs,
// handle.rs} for the interface surface.
package sandbox

import (
	"context"
	"time"

	"github.com/saltyskip/cthulu/internal/errs"
)

// BackendKind names a sandbox backend implementation.
type BackendKind string

const (
	BackendHostJail BackendKind = "host_jail"
	BackendMicrovm  BackendKind = "microvm"
)

// Info advertises a Provider's capabilities, queried in advance of any
// operation so callers can avoid calls that would return Unsupported.
type Info struct {
	Kind                    BackendKind `json:"kind"`
	SupportsPersistentState bool        `json:"supports_persistent_state"`
	SupportsCheckpoint      bool        `json:"supports_checkpoint"`
	SupportsPublicHTTP      bool        `json:"supports_public_http"`
	SupportsSleepResume     bool        `json:"supports_sleep_resume"`
}

// Summary is the listing shape returned by Provider.List.
type Summary struct {
	ID          string      `json:"id"`
	BackendKind BackendKind `json:"backend_kind"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ProvisionSpec describes a new sandbox to create.
type ProvisionSpec struct {
	WorkspaceID string
	Profile     string
	CPU         int
	MemoryMB    int
	Env         map[string]string
	Mounts      []string
	NetworkDeny bool
	Labels      map[string]string
}

// Provider creates, reattaches to, and lists sandbox Handles.
type Provider interface {
	Info() Info
	Provision(ctx context.Context, spec ProvisionSpec) (Handle, error)
	Attach(ctx context.Context, id string) (Handle, error)
	List(ctx context.Context) ([]Summary, error)
}

// ExecRequest is one command execution inside a Handle.
type ExecRequest struct {
	Command    []string
	Stdin      string
	WorkingDir string
	Timeout    time.Duration
}

// ExecResult is the outcome of Handle.Exec.
type ExecResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecStream is a live, bidirectional command execution.
type ExecStream interface {
	NextEvent(ctx context.Context) (string, bool, error) // line, ok, err
	WriteStdin(data []byte) error
	CloseStdin() error
}

// DirEntry is one entry returned by Handle.ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Handle is a live or reattachable sandbox instance.
type Handle interface {
	ID() string
	BackendKind() BackendKind
	Capabilities() Info
	Metadata() map[string]string

	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
	ExecStream(ctx context.Context, req ExecRequest) (ExecStream, error)

	PutFile(ctx context.Context, path string, data []byte) error
	GetFile(ctx context.Context, path string) ([]byte, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
	RemovePath(ctx context.Context, path string) error

	ExposePort(ctx context.Context, port int) (string, error)
	UnexposePort(ctx context.Context, port int) error

	Checkpoint(ctx context.Context) (string, error)
	Restore(ctx context.Context, checkpointID string) error

	Stop(ctx context.Context) error
	Resume(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Unsupported builds the distinguished error a backend returns for an
// operation its capability flags didn't advertise.
func Unsupported(op string, kind BackendKind) error {
	return errs.New(errs.Unsupported, string(kind)+" backend does not support "+op)
}
