// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saltyskip/cthulu/internal/domain"
)

// httpSourceResolver is a minimal runner.SourceResolver: it treats a
// source node's config "url" as a plain HTTP GET and returns the body as
// text. Real RSS/scrape/spreadsheet adapters are collaborators outside
// this repo's scope per spec.md §1; this exists only so a flow that
// wires a source node to a plain HTTP endpoint works out of the box.
type httpSourceResolver struct {
	client *http.Client
}

func newHTTPSourceResolver() *httpSourceResolver {
	return &httpSourceResolver{client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *httpSourceResolver) Resolve(ctx context.Context, flow domain.Flow, node domain.Node) (string, error) {
	url := configString(node.Config, "url")
	if url == "" {
		return "", fmt.Errorf("source node %s has no url configured", node.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("source node %s: fetch %s: %w", node.ID, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("source node %s: %s returned %s", node.ID, url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// httpSinkDispatcher is a minimal runner.SinkDispatcher: it POSTs the
// executor's output text as-is to a sink node's configured "url". Real
// chat-message Block Kit / rich-document formatting is a collaborator
// outside this repo's scope per spec.md §1.
type httpSinkDispatcher struct {
	client *http.Client
}

func newHTTPSinkDispatcher() *httpSinkDispatcher {
	return &httpSinkDispatcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *httpSinkDispatcher) Dispatch(ctx context.Context, flow domain.Flow, node domain.Node, text string) error {
	url := configString(node.Config, "url")
	if url == "" {
		return fmt.Errorf("sink node %s has no url configured", node.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(text))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink node %s: post %s: %w", node.ID, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink node %s: %s returned %s", node.ID, url, resp.Status)
	}
	return nil
}
