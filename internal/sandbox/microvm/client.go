// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package microvm implements the Microvm Backend (spec component J): an
// HTTP client to a remote VM control plane that owns the hypervisor,
// rootfs, networking, and a per-VM web-terminal endpoint, plus the
// per-flow VM lease map and terminal WebSocket command execution.
//
// Grounded on original_source/cthulu-backend/sandbox/vm_manager/mod.rs
// (the VmManagerClient REST surface: POST /vms, GET /vms/{id}, DELETE
// /vms/{id}, 404-as-idempotent-delete) and
// internal/api/handlers/terminal.go's ping/pong + writeMu-serialized
// WebSocket idiom, reused for the terminal command-execution client.
package microvm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/saltyskip/cthulu/internal/domain"
	"github.com/saltyskip/cthulu/internal/errs"
)

// VmResponse mirrors the control plane's VmResponse, matching
// domain.VmInfo's JSON shape.
type vmResponse struct {
	VmID        uint32 `json:"vm_id"`
	Tier        string `json:"tier"`
	GuestIP     string `json:"guest_ip"`
	SSHPort     uint16 `json:"ssh_port"`
	WebPort     uint16 `json:"web_port"`
	SSHCommand  string `json:"ssh_command"`
	WebTerminal string `json:"web_terminal"`
	PID         uint32 `json:"pid"`
}

func (v vmResponse) toDomain() domain.VmInfo {
	return domain.VmInfo{
		VmID:        fmt.Sprintf("%d", v.VmID),
		Tier:        v.Tier,
		GuestIP:     v.GuestIP,
		SSHPort:     int(v.SSHPort),
		WebPort:     int(v.WebPort),
		WebTerminal: v.WebTerminal,
		SSHCommand:  v.SSHCommand,
		PID:         int(v.PID),
	}
}

// Client is an HTTP client for the VM Manager control-plane REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client; baseURL's trailing slash is trimmed.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

func (c *Client) CreateVM(ctx context.Context, tier, apiKey string) (domain.VmInfo, error) {
	body, _ := json.Marshal(map[string]string{"tier": tier, "api_key": apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/vms", bytes.NewReader(body))
	if err != nil {
		return domain.VmInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var vm vmResponse
	if err := c.do(req, http.StatusOK, &vm); err != nil {
		return domain.VmInfo{}, errs.Wrap(errs.Provision, "VM Manager create failed", err)
	}
	return vm.toDomain(), nil
}

func (c *Client) GetVM(ctx context.Context, vmID string) (domain.VmInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/vms/"+vmID, nil)
	if err != nil {
		return domain.VmInfo{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.VmInfo{}, errs.Wrap(errs.Backend, "VM Manager get_vm failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.VmInfo{}, errs.New(errs.NotFound, fmt.Sprintf("VM %s not found", vmID))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return domain.VmInfo{}, errs.New(errs.Backend, fmt.Sprintf("VM Manager get_vm returned %d: %s", resp.StatusCode, body))
	}

	var vm vmResponse
	if err := json.NewDecoder(resp.Body).Decode(&vm); err != nil {
		return domain.VmInfo{}, errs.Wrap(errs.ParseError, "parse VM response", err)
	}
	return vm.toDomain(), nil
}

// DeleteVM deletes a VM; a 404 is treated as success (idempotent).
func (c *Client) DeleteVM(ctx context.Context, vmID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/vms/"+vmID, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.Backend, "VM Manager delete failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return errs.New(errs.Backend, fmt.Sprintf("VM Manager delete returned %d: %s", resp.StatusCode, body))
	}
	return nil
}

func (c *Client) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
