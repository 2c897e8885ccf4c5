// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/saltyskip/cthulu/internal/importer"
)

// NewTemplateHandler creates a TemplateHandler backed by imp.
func NewTemplateHandler(imp *importer.Importer, httpClient *http.Client) *TemplateHandler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TemplateHandler{imp: imp, http: httpClient}
}

// TemplateHandler backs the template-import endpoints spec.md §6 names:
// "Template import endpoints (YAML body, GitHub URL)".
type TemplateHandler struct {
	imp  *importer.Importer
	http *http.Client
}

// ImportYAML imports a single flow template from the raw YAML request
// body, per spec.md §4.M.
func (h *TemplateHandler) ImportYAML(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	flow, err := h.imp.ImportOne(data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, flow)
}

type importGithubRequest struct {
	URL string `json:"url"`
}

// ImportGithubURL fetches a flow template's raw YAML from a GitHub URL
// (expected to already be a raw.githubusercontent.com link, or any URL
// serving the YAML verbatim) and imports it the same way ImportYAML does.
func (h *TemplateHandler) ImportGithubURL(w http.ResponseWriter, r *http.Request) {
	var req importGithubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "missing or invalid url")
		return
	}

	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.URL, nil)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	resp, err := h.http.Do(httpReq)
	if err != nil {
		WriteError(w, http.StatusBadGateway, ErrServiceError, "fetching template: "+err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		WriteError(w, http.StatusBadGateway, ErrServiceError, "template fetch returned non-200 status")
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		WriteError(w, http.StatusBadGateway, ErrServiceError, err.Error())
		return
	}
	flow, err := h.imp.ImportOne(data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, flow)
}
