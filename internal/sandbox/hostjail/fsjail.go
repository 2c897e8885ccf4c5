// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hostjail implements the Host-Jail Backend (spec component I):
// a permissive local backend whose workspace root every file operation
// is resolved against, rejecting any path traversal that would escape
// it. Exec runs directly on the host with the working directory set to
// the jail root.
//
// Grounded on original_source/cthulu-backend/sandbox/local_host/fs_jail.rs
// (component-wise path normalization without requiring the target to
// exist, so traversal is caught before any filesystem call).
package hostjail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/saltyskip/cthulu/internal/errs"
)

// FsJail roots all guest-relative path operations at a workspace
// directory on the host filesystem.
type FsJail struct {
	root string
}

// Create makes (if needed) and roots a jail at root.
func Create(root string) (*FsJail, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.Provision, fmt.Sprintf("create workspace dir %s", root), err)
	}
	return &FsJail{root: root}, nil
}

// Attach reattaches to an existing workspace directory.
func Attach(root string) (*FsJail, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("workspace dir does not exist: %s", root))
	}
	return &FsJail{root: root}, nil
}

// Root returns the jail's workspace directory.
func (j *FsJail) Root() string { return j.root }

// Resolve maps a guest path to an absolute host path, rejecting any ".."
// component that would escape the workspace root. This is computed
// purely from path components — it never requires the target to exist,
// so traversal is caught even for files that don't exist yet.
func (j *FsJail) Resolve(guestPath string) (string, error) {
	relative := strings.TrimPrefix(guestPath, "/")

	var normalized []string
	for _, seg := range strings.Split(relative, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(normalized) == 0 {
				return "", errs.New(errs.Exec, fmt.Sprintf("path escapes workspace: %s", guestPath))
			}
			normalized = normalized[:len(normalized)-1]
		default:
			normalized = append(normalized, seg)
		}
	}

	rootCanonical, err := filepath.EvalSymlinks(j.root)
	if err != nil {
		rootCanonical = j.root
	}
	return filepath.Join(append([]string{rootCanonical}, normalized...)...), nil
}

// PutFile writes bytes at a guest-relative path, creating parent
// directories when createParents is set.
func (j *FsJail) PutFile(guestPath string, data []byte, createParents bool, mode os.FileMode) error {
	path, err := j.Resolve(guestPath)
	if err != nil {
		return err
	}
	if createParents {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errs.Wrap(errs.IO, "create parent dirs", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.IO, "write file", err)
	}
	if mode != 0 {
		_ = os.Chmod(path, mode)
	}
	return nil
}

// GetFile reads a guest-relative path, truncating to maxBytes (0 means
// unbounded) and reporting whether truncation occurred.
func (j *FsJail) GetFile(guestPath string, maxBytes int) (data []byte, truncated bool, err error) {
	path, err := j.Resolve(guestPath)
	if err != nil {
		return nil, false, err
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, errs.Wrap(errs.IO, "read file", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return data[:maxBytes], true, nil
	}
	return data, false, nil
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// ReadDir lists the entries at a guest-relative directory path.
func (j *FsJail) ReadDir(guestPath string) ([]DirEntry, error) {
	path, err := j.Resolve(guestPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "read dir", err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return out, nil
}

// RemovePath removes a guest-relative file or directory.
func (j *FsJail) RemovePath(guestPath string, recursive bool) error {
	path, err := j.Resolve(guestPath)
	if err != nil {
		return err
	}
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return errs.Wrap(errs.IO, "remove path", err)
	}
	return nil
}

// Destroy removes the entire workspace directory.
func (j *FsJail) Destroy() error {
	if _, err := os.Stat(j.root); err != nil {
		return nil
	}
	if err := os.RemoveAll(j.root); err != nil {
		return errs.Wrap(errs.IO, "destroy workspace", err)
	}
	return nil
}
